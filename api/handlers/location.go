package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
	"github.com/swifthaul/logistics-api/tracking"
)

// Location exported for testing purposes
type Location struct {
	Store *tracking.Store
	Users databases.UserDatabase
}

// updateLocationRequest is the REST fallback ping a driver device sends when
// it has no socket connection. forceUpdate bypasses the write throttle.
type updateLocationRequest struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Accuracy    float64 `json:"accuracy"`
	Timestamp   int64   `json:"timestamp"`
	ForceUpdate bool    `json:"forceUpdate"`
}

// UpdateVehicleLocationHandler writes one device position through the same
// throttle path the socket session uses. Drivers can only report for the
// vehicle they are assigned to.
func (l Location) UpdateVehicleLocationHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	qctx, qcancel := api.WithQueryTimeout(r.Context())
	defer qcancel()

	if err := l.verifyAssignedDriver(qctx, uid, vehicleID, w); err != nil {
		return
	}

	timestamp := req.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	wctx, wcancel := api.WithWriteTimeout(r.Context())
	defer wcancel()

	admitted, err := l.Store.Publish(wctx, tracking.Reading{
		VehicleID: vehicleID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Accuracy:  req.Accuracy,
		Timestamp: timestamp,
		Source:    models.LocationSourceGPS,
		Force:     req.ForceUpdate,
		UpdatedBy: uid,
	})
	if err != nil {
		config.ErrorStatus("failed to write vehicle location", http.StatusInternalServerError, w, err)
		return
	}

	message := "Location update accepted"
	if !admitted {
		message = "Location update throttled"
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  message,
		"admitted": admitted,
	})
}

// VehicleLocationHandler returns the live location record for a vehicle.
func (l Location) VehicleLocationHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := l.Store.Latest(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("no live location for vehicle", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get vehicle location", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// VehicleTrackingIDHandler returns the vehicle's stable tracking code,
// creating the identity record on first request.
func (l Location) VehicleTrackingIDHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	trackingID, err := l.Store.Resolver.GetOrCreate(ctx, vehicleID, uid)
	if err != nil {
		config.ErrorStatus("failed to resolve tracking id", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"vehicleId":  vehicleID,
		"trackingId": trackingID,
	})
}

// verifyAssignedDriver confirms the acting driver is assigned to vehicleID.
// It writes the error response itself and reports failure via the returned
// error so callers can just return.
func (l Location) verifyAssignedDriver(ctx context.Context, uid, vehicleID string, w http.ResponseWriter) error {
	uOID, err := primitive.ObjectIDFromHex(uid)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return err
	}

	user, err := l.Users.FindOne(ctx, bson.M{"_id": uOID})
	if err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, err)
		return err
	}
	if user.Details.AssignedVehicleID != vehicleID {
		err := errors.New("driver is not assigned to this vehicle")
		config.ErrorStatus("driver is not assigned to this vehicle", http.StatusForbidden, w, err)
		return err
	}
	return nil
}
