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
	"github.com/swifthaul/logistics-api/dispatch"
	"github.com/swifthaul/logistics-api/models"
	"github.com/swifthaul/logistics-api/tracking"
)

var (
	// Page denotes the starting Page for pagination results
	Page = 0
)

// Vehicle exported for testing purposes
type Vehicle struct {
	DB       databases.VehicleDatabase
	Users    databases.UserDatabase
	Dispatch *dispatch.Manager
	Store    *tracking.Store
}

// VehicleHandler returns all vehicles
func (v Vehicle) VehicleHandler(w http.ResponseWriter, r *http.Request) {
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
	}
	limit64 := int64(Limit)
	Page = getPage(Page, r)
	skip64 := int64(Page * Limit)
	dbResp, err := v.DB.Find(context.TODO(), bson.D{}, &options.FindOptions{Limit: &limit64, Skip: &skip64})
	if err != nil {
		config.ErrorStatus("failed to get vehicles", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements inside models.Vehicles exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.Vehicle{}
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// AvailableVehiclesHandler returns vehicles that are bookable right now:
// marked available and with a driver assigned to actually run the trip.
func (v Vehicle) AvailableVehiclesHandler(w http.ResponseWriter, r *http.Request) {
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
	}
	limit64 := int64(Limit)
	Page = getPage(Page, r)
	skip64 := int64(Page * Limit)
	dbResp, err := v.DB.Find(context.TODO(), bson.M{
		"vehicle.available": true,
		"vehicle.driverId":  bson.M{"$ne": ""},
	}, &options.FindOptions{Limit: &limit64, Skip: &skip64})
	if err != nil {
		config.ErrorStatus("failed to get available vehicles", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements inside models.Vehicles exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.Vehicle{}
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// VehiclesByDriverHandler returns all vehicles assigned to the given driver.
// The assignment invariant keeps this at one vehicle at most, but the response
// stays a list so the client treats it like every other vehicle listing.
func (v Vehicle) VehiclesByDriverHandler(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]

	zap.S().Debugf("driver_id: '%v'", driverID)

	dbResp, err := v.DB.Find(context.TODO(), bson.M{"vehicle.driverId": driverID})
	if err != nil {
		config.ErrorStatus("failed to get vehicles by driver id", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Vehicle{}
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// VehicleByIDHandler returns a vehicle by ID
func (v Vehicle) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	zap.S().Debugf("vehicle_id: %v", vehicleID)

	vID, err := primitive.ObjectIDFromHex(vehicleID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := v.DB.FindOne(context.Background(), bson.M{"_id": vID})
	if err != nil {
		config.ErrorStatus("failed to get vehicle by ID", http.StatusNotFound, w, err)
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

// CreateVehicleHandler creates a vehicle
func (v Vehicle) CreateVehicleHandler(w http.ResponseWriter, r *http.Request) {
	var vehicle models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&vehicle.Details); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	vehicle.ID = primitive.NewObjectID()
	vehicle.Details.Available = true // new vehicles start bookable
	vehicle.Details.DriverID = ""    // drivers are attached through the assignment flow
	vehicle.Details.CreatedAt = primitive.NewDateTimeFromTime(time.Now())
	vehicle.Details.UpdatedAt = vehicle.Details.CreatedAt

	_, err := v.DB.InsertOne(context.Background(), vehicle)
	if err != nil {
		config.ErrorStatus("failed to create vehicle", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Vehicle created successfully",
		"id":      vehicle.ID.Hex(),
	})
}

// UpdateVehicleHandler updates a vehicle's details. Assignment and
// availability are owned by the dispatch flows, so whatever the request body
// carries for those fields is discarded in favor of the stored values, and the
// write is versioned so it cannot clobber a concurrent assignment swap.
func (v Vehicle) UpdateVehicleHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	vID, err := primitive.ObjectIDFromHex(vehicleID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	existing, err := v.DB.FindOne(context.Background(), bson.M{"_id": vID})
	if err != nil {
		config.ErrorStatus("failed to get vehicle by ID", http.StatusNotFound, w, err)
		return
	}

	var vehicle models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&vehicle.Details); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	vehicle.Details.DriverID = existing.Details.DriverID
	vehicle.Details.Available = existing.Details.Available
	vehicle.Details.CreatedAt = existing.Details.CreatedAt
	vehicle.Details.UpdatedAt = primitive.NewDateTimeFromTime(time.Now())

	res, err := v.DB.UpdateOne(context.Background(),
		bson.M{"_id": vID, "__v": existing.Version},
		bson.M{
			"$set": bson.M{"vehicle": vehicle.Details},
			"$inc": bson.M{"__v": 1},
		},
	)
	if err != nil {
		config.ErrorStatus("failed to update vehicle", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("vehicle was modified concurrently", http.StatusConflict, w, errors.New("stale vehicle version"))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Vehicle updated successfully",
	})
}

// DeleteVehicleHandler deletes a vehicle by ID. The assigned driver is
// unlinked first so no user is left pointing at a vehicle that no longer
// exists, then the live location record and tracking identity are removed.
func (v Vehicle) DeleteVehicleHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	vID, err := primitive.ObjectIDFromHex(vehicleID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if err := v.Dispatch.Assign(ctx, vehicleID, nil); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			config.ErrorStatus("failed to get vehicle by ID", http.StatusNotFound, w, err)
		case errors.Is(err, dispatch.ErrConflict):
			config.ErrorStatus("vehicle assignment is changing, retry delete", http.StatusConflict, w, err)
		default:
			config.ErrorStatus("failed to unassign vehicle driver", http.StatusInternalServerError, w, err)
		}
		return
	}

	if err := v.DB.DeleteOne(ctx, bson.M{"_id": vID}); err != nil {
		config.ErrorStatus("failed to delete vehicle", http.StatusInternalServerError, w, err)
		return
	}

	// The vehicle record is gone; leftover tracking records are unreachable,
	// so a failed cascade is logged rather than failing the delete.
	if err := v.Store.Remove(ctx, vehicleID); err != nil {
		zap.S().Errorw("failed to remove tracking records for deleted vehicle",
			"vehicleId", vehicleID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Vehicle deleted successfully",
	})
}

// assignDriverRequest carries the assignment body. DriverID is a pointer so
// an explicit null unassigns the current driver.
type assignDriverRequest struct {
	DriverID *string `json:"driverId"`
}

// AssignDriverHandler links a driver to a vehicle, or unlinks with a null
// driverId. The swap protocol keeps the driver-vehicle pairing bidirectional
// no matter what either record pointed at before.
func (v Vehicle) AssignDriverHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]

	var req assignDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	err := v.Dispatch.Assign(ctx, vehicleID, req.DriverID)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			config.ErrorStatus("vehicle or driver not found", http.StatusNotFound, w, err)
		case errors.Is(err, dispatch.ErrInvalidRole):
			config.ErrorStatus("user is not a driver", http.StatusBadRequest, w, err)
		case errors.Is(err, dispatch.ErrConflict):
			config.ErrorStatus("assignment conflicted with a concurrent change", http.StatusConflict, w, err)
		default:
			config.ErrorStatus("failed to assign driver", http.StatusInternalServerError, w, err)
		}
		return
	}

	message := "Driver unassigned successfully"
	if req.DriverID != nil {
		message = "Driver assigned successfully"
		v.sendAssignmentNotice(ctx, vehicleID, *req.DriverID)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": message,
	})
}

// sendAssignmentNotice emails the newly assigned driver off the request path.
func (v Vehicle) sendAssignmentNotice(ctx context.Context, vehicleID, driverID string) {
	vID, err := primitive.ObjectIDFromHex(vehicleID)
	if err != nil {
		return
	}
	dID, err := primitive.ObjectIDFromHex(driverID)
	if err != nil {
		return
	}

	vehicle, err := v.DB.FindOne(ctx, bson.M{"_id": vID})
	if err != nil {
		zap.S().Warnw("skipping assignment notice, vehicle lookup failed", "vehicleId", vehicleID, "error", err)
		return
	}
	driver, err := v.Users.FindOne(ctx, bson.M{"_id": dID})
	if err != nil {
		zap.S().Warnw("skipping assignment notice, driver lookup failed", "driverId", driverID, "error", err)
		return
	}

	go notifyDriverAssigned(driver.Details.Email, driver.Details.Name, vehicle.Details.Name)
}

func getPage(Page int, r *http.Request) int {
	if r.URL.Query().Get("page") == "" {
		zap.S().Warnf("page not set, using default of %v", Page)
	} else {
		var err error
		Page, err = strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			zap.S().Errorf(fmt.Sprintf("error parsing page number: %v", err))
		}
		if Page < 0 {
			zap.S().Warnf(fmt.Sprintf("cannot process page number less than 1. Got: %v", Page))
			return 0
		}
	}
	return Page
}
