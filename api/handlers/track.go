package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
)

// Track exported for testing purposes
type Track struct {
	Identities databases.TrackingIdentityDatabase
	Locations  databases.VehicleLocationDatabase
	Shipments  databases.ShipmentDatabase
}

// TrackHandler serves the public tracking page lookup: a tracking code in,
// the vehicle's live position and shipment progress out. No authentication;
// the response carries only what a recipient holding the code may see, so
// account identifiers stay out of it.
func (t Track) TrackHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["tracking_id"]
	if code == "" {
		config.ErrorStatus("tracking code is required", http.StatusBadRequest, w, errors.New("missing tracking code"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	start := time.Now()
	identity, err := t.Identities.FindByTrackingID(ctx, code)
	api.RecordDBQueryFromContext(r.Context(), "findOne", "vehicleTrackingIds", time.Since(start), err)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("unknown tracking code", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to resolve tracking code", http.StatusInternalServerError, w, err)
		return
	}

	resp := map[string]interface{}{
		"trackingId": identity.TrackingID,
		"vehicleId":  identity.VehicleID,
		"location":   nil,
		"shipment":   nil,
	}

	// A missing or unreadable location never blanks the page; the shipment
	// half still renders.
	start = time.Now()
	location, err := t.Locations.FindOne(ctx, bson.M{"_id": identity.VehicleID})
	api.RecordDBQueryFromContext(r.Context(), "findOne", "vehicleLocations", time.Since(start), err)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Warnw("tracking page location lookup failed", "trackingId", code, "error", err)
		}
	} else {
		resp["location"] = map[string]interface{}{
			"lat":       location.Lat,
			"lng":       location.Lng,
			"timestamp": location.Timestamp,
			"source":    location.Source,
		}
	}

	start = time.Now()
	shipment, err := t.Shipments.FindOne(ctx, bson.M{"shipment.trackingId": code})
	api.RecordDBQueryFromContext(r.Context(), "findOne", "shipments", time.Since(start), err)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Warnw("tracking page shipment lookup failed", "trackingId", code, "error", err)
		}
	} else {
		resp["shipment"] = map[string]interface{}{
			"status":        shipment.Details.Status,
			"pickupAddress": shipment.Details.PickupAddress,
			"dropAddress":   shipment.Details.DropAddress,
			"updatedAt":     shipment.Details.UpdatedAt,
		}
	}

	b, err := json.Marshal(resp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
