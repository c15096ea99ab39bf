package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/api/handlers"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/databases/mocks"
	"github.com/swifthaul/logistics-api/dispatch"
	"github.com/swifthaul/logistics-api/models"
)

func TestVehicle_VehicleByIDHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/vehicle/1234", nil)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "1234"})

	var db databases.DatabaseHelper
	var client databases.ClientHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{} // can be used as db = &mocks.DatabaseHelper{}
	client = &mocks.ClientHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	client.(*mocks.ClientHelper).On("StartSession").Return(nil, errors.New("mocked-error"))
	db.(*MockDatabaseHelper).On("Client").Return(client)
	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(errors.New("mocked-error"))
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	vehicleDatabase := databases.NewVehicleDatabase(db)
	u := handlers.Vehicle{
		DB: vehicleDatabase,
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.VehicleByIDHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}

	expected := models.ErrorMessageResponse{Response: models.MessageError{Message: "failed to get objectID from Hex", Error: "the provided hex string is not a valid ObjectID"}}
	b, _ := json.Marshal(expected)
	if rr.Body.String() != string(b) {
		t.Errorf("handler returned unexpected body: \ngot: %v \nwant: %v", rr.Body.String(), expected)
	}
}

func TestVehicle_VehicleByIDHandlerFailedToFindOne(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/vehicle/5fc51f58c72ff10004dca999", nil)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "5fc51f58c72ff10004dca999"})

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(errors.New("mocked-error"))
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.VehicleByIDHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}

	expected := models.ErrorMessageResponse{Response: models.MessageError{Message: "failed to get vehicle by ID", Error: "mocked-error"}}
	b, _ := json.Marshal(expected)
	if rr.Body.String() != string(b) {
		t.Errorf("handler returned unexpected body: \ngot: %v \nwant: %v", rr.Body.String(), expected)
	}
}

func TestVehicle_VehicleByIDHandlerSuccess(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/vehicle/5fc51f58c72ff10004dca382", nil)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "5fc51f58c72ff10004dca382"})

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Vehicle)
		(*arg).Details.Name = "Tata Ace"
		(*arg).Details.Type = "mini_truck"
		(*arg).Details.PricePerKm = 18
		(*arg).Details.Available = true
	})
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.VehicleByIDHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var got models.Vehicle
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Tata Ace", got.Details.Name)
	assert.True(t, got.Details.Available)
}

func TestVehicle_VehicleHandlerEmpty(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/vehicles", nil)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var cursorHelper databases.CursorHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	cursorHelper = &mocks.CursorHelper{}

	cursorHelper.(*mocks.CursorHelper).On("Decode", mock.Anything).Return(nil)
	conn.(*mocks.CollectionHelper).On("Find", mock.Anything, mock.Anything, mock.Anything).Return(cursorHelper)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.VehicleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `[]`
	if rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestVehicle_AvailableVehiclesHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/vehicles/available", nil)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var cursorHelper databases.CursorHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	cursorHelper = &mocks.CursorHelper{}

	cursorHelper.(*mocks.CursorHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.Vehicle)
		*arg = []models.Vehicle{
			{Details: models.VehicleDetails{Name: "Tata Ace", Available: true, DriverID: "5fc51f58c72ff10004dca381"}},
		}
	})
	conn.(*mocks.CollectionHelper).On("Find", mock.Anything, mock.Anything, mock.Anything).Return(cursorHelper)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.AvailableVehiclesHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var got []models.Vehicle
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Len(t, got, 1)
	assert.Equal(t, "Tata Ace", got[0].Details.Name)
}

func TestVehicle_VehiclesByDriverHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/vehicles/driver/5fc51f58c72ff10004dca381", nil)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"driver_id": "5fc51f58c72ff10004dca381"})

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var cursorHelper databases.CursorHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	cursorHelper = &mocks.CursorHelper{}

	cursorHelper.(*mocks.CursorHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.Vehicle)
		*arg = []models.Vehicle{
			{Details: models.VehicleDetails{Name: "Eicher 14ft", DriverID: "5fc51f58c72ff10004dca381"}},
		}
	})
	conn.(*mocks.CollectionHelper).On("Find", mock.Anything, mock.Anything).Return(cursorHelper)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.VehiclesByDriverHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var got []models.Vehicle
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.Len(t, got, 1)
	assert.Equal(t, "5fc51f58c72ff10004dca381", got[0].Details.DriverID)
}

func TestVehicle_CreateVehicleHandler(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Tata Ace", "type": "mini_truck", "capacity": 750, "pricePerKm": 18, "available": false, "driverId": "sneaky-driver"}`)
	req, err := http.NewRequest("POST", "/api/v1/vehicle", body)
	if err != nil {
		t.Fatal(err)
	}

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}

	var inserted models.Vehicle
	conn.(*mocks.CollectionHelper).On("InsertOne", mock.Anything, mock.Anything).
		Return(&mocks.InsertOneResultHelper{}).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(models.Vehicle)
		})
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.CreateVehicleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusCreated {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusCreated)
	}

	// Whatever the request claims, new vehicles start bookable and unassigned.
	assert.True(t, inserted.Details.Available)
	assert.Empty(t, inserted.Details.DriverID)
	assert.Equal(t, "Tata Ace", inserted.Details.Name)
}

func TestVehicle_UpdateVehicleHandlerConflict(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Tata Ace XL", "pricePerKm": 20}`)
	req, err := http.NewRequest("PUT", "/api/v1/vehicle/5fc51f58c72ff10004dca382", body)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "5fc51f58c72ff10004dca382"})

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Vehicle)
		(*arg).Details.Name = "Tata Ace"
		(*arg).Details.DriverID = "5fc51f58c72ff10004dca381"
		(*arg).Details.Available = true
		(*arg).Version = 3
	})
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	conn.(*mocks.CollectionHelper).On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.UpdateVehicleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusConflict {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusConflict)
	}
}

func TestVehicle_UpdateVehicleHandlerSuccess(t *testing.T) {
	body := bytes.NewBufferString(`{"name": "Tata Ace XL", "pricePerKm": 20, "available": false, "driverId": "sneaky-driver"}`)
	req, err := http.NewRequest("PUT", "/api/v1/vehicle/5fc51f58c72ff10004dca382", body)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "5fc51f58c72ff10004dca382"})

	var db databases.DatabaseHelper
	var conn databases.CollectionHelper
	var singleResultHelper databases.SingleResultHelper

	db = &MockDatabaseHelper{}
	conn = &mocks.CollectionHelper{}
	singleResultHelper = &mocks.SingleResultHelper{}

	singleResultHelper.(*mocks.SingleResultHelper).On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Vehicle)
		(*arg).Details.Name = "Tata Ace"
		(*arg).Details.DriverID = "5fc51f58c72ff10004dca381"
		(*arg).Details.Available = true
		(*arg).Version = 3
	})
	conn.(*mocks.CollectionHelper).On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)

	var updateFilter interface{}
	var update interface{}
	conn.(*mocks.CollectionHelper).On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil).
		Run(func(args mock.Arguments) {
			updateFilter = args.Get(1)
			update = args.Get(2)
		})
	db.(*MockDatabaseHelper).On("Collection", "vehicles").Return(conn)

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.UpdateVehicleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	// The write is pinned on the version that was read.
	filterMap := updateFilter.(bson.M)
	assert.Equal(t, int32(3), filterMap["__v"])

	// Assignment and availability come from the stored record, not the body.
	set := update.(bson.M)["$set"].(bson.M)
	details := set["vehicle"].(models.VehicleDetails)
	assert.Equal(t, "5fc51f58c72ff10004dca381", details.DriverID)
	assert.True(t, details.Available)
	assert.Equal(t, "Tata Ace XL", details.Name)
}

func TestVehicle_AssignDriverHandlerNotFound(t *testing.T) {
	body := bytes.NewBufferString(`{"driverId": "5fc51f58c72ff10004dca381"}`)
	req, err := http.NewRequest("PUT", "/api/v1/vehicle/1234/assign-driver", body)
	if err != nil {
		t.Fatal(err)
	}

	// A malformed vehicle hex never reaches the database.
	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "1234"})

	u := handlers.Vehicle{
		Dispatch: &dispatch.Manager{
			Vehicles: &mocks.VehicleDatabase{},
			Users:    &mocks.UserDatabase{},
		},
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.AssignDriverHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}

	expected := models.ErrorMessageResponse{Response: models.MessageError{Message: "vehicle or driver not found", Error: "record not found"}}
	b, _ := json.Marshal(expected)
	if rr.Body.String() != string(b) {
		t.Errorf("handler returned unexpected body: \ngot: %v \nwant: %v", rr.Body.String(), expected)
	}
}

func TestVehicle_DeleteVehicleHandlerBadID(t *testing.T) {
	req, err := http.NewRequest("DELETE", "/api/v1/vehicle/not-a-hex", nil)
	if err != nil {
		t.Fatal(err)
	}

	req = mux.SetURLVars(req, map[string]string{"vehicle_id": "not-a-hex"})

	u := handlers.Vehicle{
		DB: databases.NewVehicleDatabase(&MockDatabaseHelper{}),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.DeleteVehicleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}
