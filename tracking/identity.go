// Package tracking implements the live-location pipeline: stable per-vehicle
// tracking codes, throttled admission of position readings into the shared
// location store, fan-out to subscribed watchers, and the per-driver
// acquisition state machine that produces the readings.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
)

// Resolver derives and persists the stable short tracking code for a vehicle.
type Resolver struct {
	Identities databases.TrackingIdentityDatabase
}

// DeriveTrackingID computes the tracking code for a vehicle ID: up to four
// alphanumeric characters of the ID uppercased, followed by a four digit
// rolling hash of the full ID. Pure function of the ID, so concurrent first
// writers compute identical codes and their race is benign.
func DeriveTrackingID(vehicleID string) string {
	var prefix strings.Builder
	for i := 0; i < len(vehicleID) && prefix.Len() < 4; i++ {
		c := vehicleID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			prefix.WriteByte(c)
		}
	}

	var h uint32
	for i := 0; i < len(vehicleID); i++ {
		h = h*31 + uint32(vehicleID[i])
	}

	return fmt.Sprintf("%s%04d", strings.ToUpper(prefix.String()), h%10000)
}

// GetOrCreate returns the vehicle's tracking code, creating the identity
// record on first use. A stored code is returned unchanged. On store failure
// the locally derived code is returned unpersisted; the derivation is
// deterministic, so a later successful call writes the same code.
func (r *Resolver) GetOrCreate(ctx context.Context, vehicleID, actorUID string) (string, error) {
	identity, err := r.Identities.FindOne(ctx, bson.M{"_id": vehicleID})
	if err == nil {
		return identity.TrackingID, nil
	}

	code := DeriveTrackingID(vehicleID)
	if !errors.Is(err, mongo.ErrNoDocuments) {
		zap.S().Errorw("tracking identity lookup failed, serving unpersisted code",
			"vehicleId", vehicleID, "error", err)
		return code, nil
	}

	_, err = r.Identities.InsertOne(ctx, models.TrackingIdentity{
		ID:         vehicleID,
		VehicleID:  vehicleID,
		TrackingID: code,
		CreatedAt:  time.Now().UnixMilli(),
		CreatedBy:  actorUID,
	})
	if err != nil {
		// A duplicate key here means a concurrent caller won the insert with
		// the same code, which is fine.
		if !mongo.IsDuplicateKeyError(err) {
			zap.S().Errorw("tracking identity persist failed, serving unpersisted code",
				"vehicleId", vehicleID, "error", err)
		}
	}
	return code, nil
}

// Remove deletes the vehicle's identity record. Part of the vehicle deletion
// cascade.
func (r *Resolver) Remove(ctx context.Context, vehicleID string) error {
	return r.Identities.DeleteOne(ctx, bson.M{"_id": vehicleID})
}
