package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/models"
)

var a App

func executeRequest(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	return rr
}

func checkResponseCode(t *testing.T, expected, actual int) {
	if expected != actual {
		t.Errorf("Expected response code %d. Got %d\n", expected, actual)
	}
}

func TestUnknownRoute(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/asdf", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusNotFound, response.Code)

}

func TestHealthCheckRoute(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/health", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusOK, response.Code)

	if !strings.Contains(response.Body.String(), "alive") {
		t.Errorf("Expected 'alive' in the reponse. Got '%s'", response.Body.String())
	}
}

func TestApp_BookingsHandlerUnauthorized(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/api/v1/bookings", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)

	var m map[string]string
	json.Unmarshal(response.Body.Bytes(), &m)
	if m["error"] != "unauthorized" {
		t.Errorf("Expected the 'error' key of the reponse to be set to 'unauthorized'. Got '%s'", m["error"])
	}
}

func TestApp_BookingsHandlerInvalidToken(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/api/v1/bookings", nil)
	req.Header.Add("Authorization", "Bearer asdfasdf")
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)

	var m map[string]string
	json.Unmarshal(response.Body.Bytes(), &m)
	if m["error"] != "unauthorized" {
		t.Errorf("Expected the 'error' key of the reponse to be set to 'unauthorized'. Got '%s'", m["error"])
	}
}

func TestApp_VehiclesHandlerForbiddenForCustomer(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	a.Router = a.New()

	token, err := api.SignAccessToken(&models.User{
		ID: primitive.NewObjectID(),
		Details: models.UserDetails{
			Email: "customer@swifthaul.test",
			Role:  models.RoleCustomer,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest("GET", "/api/v1/vehicles", nil)
	req.Header.Add("Authorization", "Bearer "+token)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusForbidden, response.Code)

	var m map[string]string
	json.Unmarshal(response.Body.Bytes(), &m)
	if m["error"] != "forbidden" {
		t.Errorf("Expected the 'error' key of the reponse to be set to 'forbidden'. Got '%s'", m["error"])
	}
}

func TestApp_PaymentSuccessRedirect(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/api/v1/payment/success?session_id=cs_test_123", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusSeeOther, response.Code)

	location := response.Header().Get("Location")
	if location != "/payment/success?session_id=cs_test_123" {
		t.Errorf("Expected redirect to the frontend success page. Got '%s'", location)
	}
}
