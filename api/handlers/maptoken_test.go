package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/api/handlers"
	"github.com/swifthaul/logistics-api/models"
)

func TestMapToken_MapTokenHandlerUnauthorized(t *testing.T) {
	req, err := http.NewRequest("POST", "/api/v1/maps/token", nil)
	if err != nil {
		t.Fatal(err)
	}

	u := handlers.MapToken{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.MapTokenHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusUnauthorized {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusUnauthorized)
	}

	expected := models.ErrorMessageResponse{Response: models.MessageError{Message: "authentication required", Error: "no authenticated actor in request context"}}
	b, _ := json.Marshal(expected)
	if rr.Body.String() != string(b) {
		t.Errorf("handler returned unexpected body: \ngot: %v \nwant: %v", rr.Body.String(), expected)
	}
}

func TestMapToken_MapTokenHandlerSuccess(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	req, err := http.NewRequest("POST", "/api/v1/maps/token", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = asActor(req, "5fc51f58c72ff10004dca383", "customer")

	u := handlers.MapToken{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(u.MapTokenHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	assert.NotEmpty(t, got["token"])
	assert.Equal(t, float64(900), got["expiresIn"])

	// The maps scope is not an API credential.
	_, err = api.ParseAccessToken(got["token"].(string))
	assert.Error(t, err)
}
