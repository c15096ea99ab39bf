package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/swifthaul/logistics-api/api/handlers"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/databases/mocks"
	"github.com/swifthaul/logistics-api/models"
)

func TestAuth_RegisterHandlerMissingFields(t *testing.T) {
	body := bytes.NewBufferString(`{"email": "rita@swifthaul.test"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/register", body)
	if err != nil {
		t.Fatal(err)
	}

	a := handlers.Auth{
		DB: databases.NewUserDatabase(&MockDatabaseHelper{}),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.RegisterHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}

	var got models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.False(t, got.Success)
	assert.Equal(t, "missing_fields", got.Code)
}

func TestAuth_RegisterHandlerWeakPassword(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Rita", "email": "rita@swifthaul.test", "password": "short"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/register", body)
	if err != nil {
		t.Fatal(err)
	}

	a := handlers.Auth{
		DB: databases.NewUserDatabase(&MockDatabaseHelper{}),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.RegisterHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}

	var got models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "weak_password", got.Code)
}

func TestAuth_RegisterHandlerAdminRoleRejected(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Mallory", "email": "mallory@swifthaul.test", "password": "longenough", "role": "admin"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/register", body)
	if err != nil {
		t.Fatal(err)
	}

	a := handlers.Auth{
		DB: databases.NewUserDatabase(&MockDatabaseHelper{}),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.RegisterHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}

	var got models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "invalid_role", got.Code)
}

func TestAuth_RegisterHandlerEmailTaken(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Rita", "email": "rita@swifthaul.test", "password": "longenough"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/register", body)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}

	conn.(*mocks.CollectionHelper).On("CountDocuments", mock.Anything, mock.Anything).Return(int64(1), nil)
	db.(*MockDatabaseHelper).On("Collection", "users").Return(conn)

	a := handlers.Auth{
		DB: databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.RegisterHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusConflict {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusConflict)
	}

	var got models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "email_taken", got.Code)
}

func TestAuth_RegisterHandlerSuccess(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Deep Patel", "email": "deep@swifthaul.test", "password": "longenough", "role": "driver", "phone": "+91-9888888888"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/register", body)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}

	var inserted models.User
	conn.(*mocks.CollectionHelper).On("CountDocuments", mock.Anything, mock.Anything).Return(int64(0), nil)
	conn.(*mocks.CollectionHelper).On("InsertOne", mock.Anything, mock.Anything).
		Return(&mocks.InsertOneResultHelper{}).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(models.User)
		})
	db.(*MockDatabaseHelper).On("Collection", "users").Return(conn)

	a := handlers.Auth{
		DB: databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.RegisterHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusCreated {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusCreated)
	}

	assert.Equal(t, models.RoleDriver, inserted.Details.Role)
	assert.True(t, inserted.Details.Active)
	assert.NotEqual(t, "longenough", inserted.Details.Password, "password must be stored hashed")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(inserted.Details.Password), []byte("longenough")))

	var got map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, got["success"])
	assert.Equal(t, inserted.ID.Hex(), got["id"])
}

func TestAuth_LoginHandlerUnknownEmail(t *testing.T) {
	body := bytes.NewBufferString(`{"email": "nobody@swifthaul.test", "password": "whatever"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/login", body)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "users").Return(conn)

	a := handlers.Auth{
		DB: databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.LoginHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusUnauthorized {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusUnauthorized)
	}

	var got models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "invalid_credentials", got.Code)
}

func TestAuth_LoginHandlerDisabledAccount(t *testing.T) {
	body := bytes.NewBufferString(`{"email": "rita@swifthaul.test", "password": "longenough"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/login", body)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).Details.Email = "rita@swifthaul.test"
		(*arg).Details.Active = false
	})
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "users").Return(conn)

	a := handlers.Auth{
		DB: databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.LoginHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusForbidden {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusForbidden)
	}

	var got models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "account_disabled", got.Code)
}

func TestAuth_LoginHandlerWrongPassword(t *testing.T) {
	body := bytes.NewBufferString(`{"email": "rita@swifthaul.test", "password": "not-the-password"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/login", body)
	if err != nil {
		t.Fatal(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("the-real-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).Details.Email = "rita@swifthaul.test"
		(*arg).Details.Password = string(hash)
		(*arg).Details.Active = true
	})
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "users").Return(conn)

	a := handlers.Auth{
		DB: databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.LoginHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusUnauthorized {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusUnauthorized)
	}
}

func TestAuth_LoginHandlerSuccess(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")

	body := bytes.NewBufferString(`{"email": "rita@swifthaul.test", "password": "the-real-password"}`)
	req, err := http.NewRequest("POST", "/api/v1/auth/login", body)
	if err != nil {
		t.Fatal(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("the-real-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).Details.Name = "Rita Sharma"
		(*arg).Details.Email = "rita@swifthaul.test"
		(*arg).Details.Password = string(hash)
		(*arg).Details.Role = models.RoleCustomer
		(*arg).Details.Active = true
	})
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "users").Return(conn)

	a := handlers.Auth{
		DB: databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(a.LoginHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, got["success"])
	assert.NotEmpty(t, got["token"])

	user := got["user"].(map[string]interface{})
	assert.Equal(t, "rita@swifthaul.test", user["email"])
	assert.Equal(t, models.RoleCustomer, user["role"])
}
