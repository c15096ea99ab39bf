package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
)

// Shipment exported for testing purposes
type Shipment struct {
	DB databases.ShipmentDatabase
}

// shipmentTransitions is the linear delivery chain a driver walks a shipment
// through.
var shipmentTransitions = map[string]string{
	models.ShipmentStatusCreated:   models.ShipmentStatusInTransit,
	models.ShipmentStatusInTransit: models.ShipmentStatusDelivered,
}

// ShipmentsHandler returns the shipments visible to the caller: admins see
// all, customers their own, drivers the ones they carry
func (s Shipment) ShipmentsHandler(w http.ResponseWriter, r *http.Request) {
	info, err := api.Actor(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
	}
	limit64 := int64(Limit)
	Page = getPage(Page, r)
	skip64 := int64(Page * Limit)

	filter := bson.M{}
	switch actorRole(info.Groups()) {
	case models.RoleAdmin:
		// admins see every shipment
	case models.RoleDriver:
		filter["shipment.driverId"] = info.ID()
	default:
		filter["shipment.customerId"] = info.ID()
	}

	dbResp, err := s.DB.Find(context.TODO(), filter, &options.FindOptions{Limit: &limit64, Skip: &skip64})
	if err != nil {
		config.ErrorStatus("failed to get shipments", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements inside models.Shipment exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.Shipment{}
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// ShipmentByIDHandler returns a shipment given a shipmentID. Only the
// shipment's customer, its driver, or an admin may read it.
func (s Shipment) ShipmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	shipmentID := mux.Vars(r)["shipment_id"]

	sID, err := primitive.ObjectIDFromHex(shipmentID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := s.DB.FindOne(context.Background(), bson.M{"_id": sID})
	if err != nil {
		config.ErrorStatus("failed to get shipment by ID", http.StatusNotFound, w, err)
		return
	}
	if !shipmentParticipant(r, dbResp) {
		config.ErrorStatus("cannot access another customer's shipment", http.StatusForbidden, w, errors.New("forbidden"))
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

// updateShipmentStatusRequest carries the driver's delivery progress report.
// PodImageURL is the proof-of-delivery photo, accepted with the delivered
// transition.
type updateShipmentStatusRequest struct {
	Status      string `json:"status"`
	PodImageURL string `json:"podImageUrl"`
}

// UpdateShipmentStatusHandler advances a shipment along the delivery chain
func (s Shipment) UpdateShipmentStatusHandler(w http.ResponseWriter, r *http.Request) {
	shipmentID := mux.Vars(r)["shipment_id"]

	sID, err := primitive.ObjectIDFromHex(shipmentID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	var req updateShipmentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Status == "" {
		config.ErrorStatus("status is required", http.StatusBadRequest, w, errors.New("missing status"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	shipment, err := s.DB.FindOne(ctx, bson.M{"_id": sID})
	if err != nil {
		config.ErrorStatus("failed to get shipment by ID", http.StatusNotFound, w, err)
		return
	}
	if shipment.Details.DriverID != uid {
		config.ErrorStatus("shipment is not assigned to this driver", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}
	if shipmentTransitions[shipment.Details.Status] != req.Status {
		config.ErrorStatus("invalid shipment status transition", http.StatusBadRequest, w,
			errors.New("cannot move "+shipment.Details.Status+" to "+req.Status))
		return
	}

	set := bson.M{
		"shipment.status":    req.Status,
		"shipment.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
	}
	if req.Status == models.ShipmentStatusDelivered && req.PodImageURL != "" {
		set["shipment.podImageUrl"] = req.PodImageURL
	}

	// The current status in the filter is the concurrency token; a racing
	// transition leaves nothing to match.
	res, err := s.DB.UpdateOne(ctx,
		bson.M{"_id": sID, "shipment.status": shipment.Details.Status},
		bson.M{"$set": set},
	)
	if err != nil {
		config.ErrorStatus("failed to update shipment status", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("shipment was modified concurrently", http.StatusConflict, w, errors.New("status changed underneath update"))
		return
	}

	shipment.Details.Status = req.Status
	if podURL, ok := set["shipment.podImageUrl"]; ok {
		shipment.Details.PodImageURL = podURL.(string)
	}
	shipment.Details.UpdatedAt = set["shipment.updatedAt"]

	b, err := json.Marshal(shipment)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// shipmentParticipant reports whether the authenticated principal is the
// shipment's customer, its driver, or an admin.
func shipmentParticipant(r *http.Request, shipment *models.Shipment) bool {
	info, err := api.Actor(r.Context())
	if err != nil {
		return false
	}
	if info.ID() == shipment.Details.CustomerID || info.ID() == shipment.Details.DriverID {
		return true
	}
	for _, group := range info.Groups() {
		if group == models.RoleAdmin {
			return true
		}
	}
	return false
}
