// Package dispatch owns the vehicle-driver assignment swap and the
// booking-driven availability lifecycle. Both mutate several records without
// a transaction, so every invariant-preserving write here is versioned and
// the protocols retry on conflict instead of clobbering concurrent writers.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
)

// maxAssignAttempts bounds full protocol restarts after CAS misses.
const maxAssignAttempts = 3

// Manager enforces the one-driver-to-one-vehicle invariant across concurrent
// admin edits.
type Manager struct {
	Vehicles databases.VehicleDatabase
	Users    databases.UserDatabase
}

// Assign links a driver to a vehicle, unlinking whatever either side was
// previously linked to. A nil driverID unassigns the vehicle. Every write is
// guarded by the record version read at the start of the attempt; a
// concurrent swap invalidates the attempt and the whole protocol restarts,
// bounded at three attempts before ErrConflict.
//
// After a successful return the bidirectional invariant holds: the vehicle's
// driverId and the driver's assignedVehicleId reference each other, and no
// other vehicle references this driver.
func (m *Manager) Assign(ctx context.Context, vehicleID string, driverID *string) error {
	vehicleOID, err := primitive.ObjectIDFromHex(vehicleID)
	if err != nil {
		return ErrNotFound
	}

	var driverOID *primitive.ObjectID
	if driverID != nil {
		oid, err := primitive.ObjectIDFromHex(*driverID)
		if err != nil {
			return ErrNotFound
		}
		driverOID = &oid
	}

	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		err := m.assignOnce(ctx, vehicleOID, driverOID)
		if !errors.Is(err, errStaleVersion) {
			return err
		}
	}
	return ErrConflict
}

func (m *Manager) assignOnce(ctx context.Context, vehicleOID primitive.ObjectID, driverOID *primitive.ObjectID) error {
	vehicle, err := m.Vehicles.FindOne(ctx, bson.M{"_id": vehicleOID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	if driverOID == nil {
		// Unassignment: unlink the previous driver, then clear the vehicle.
		if prev := vehicle.Details.DriverID; prev != "" {
			if err := m.clearDriverVehicle(ctx, prev); err != nil {
				return err
			}
		}
		return m.setVehicleDriver(ctx, vehicle, "")
	}

	driver, err := m.Users.FindOne(ctx, bson.M{"_id": *driverOID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}
	if driver.Details.Role != models.RoleDriver {
		return ErrInvalidRole
	}

	driverHex := driverOID.Hex()
	vehicleHex := vehicleOID.Hex()

	// The driver may currently be linked to a different vehicle; unlink it
	// first so no two vehicles ever reference the same driver.
	if prev := driver.Details.AssignedVehicleID; prev != "" && prev != vehicleHex {
		if err := m.clearVehicleDriver(ctx, prev); err != nil {
			return err
		}
	}

	if err := m.setDriverVehicle(ctx, driver, vehicleHex); err != nil {
		return err
	}

	// The vehicle may previously have had a different driver; that driver
	// loses their link.
	if prev := vehicle.Details.DriverID; prev != "" && prev != driverHex {
		if err := m.clearDriverVehicle(ctx, prev); err != nil {
			return err
		}
	}

	return m.setVehicleDriver(ctx, vehicle, driverHex)
}

// clearVehicleDriver clears driverId on the vehicle referenced by hex. A
// dangling or malformed reference counts as already cleared.
func (m *Manager) clearVehicleDriver(ctx context.Context, vehicleHex string) error {
	oid, err := primitive.ObjectIDFromHex(vehicleHex)
	if err != nil {
		return nil
	}
	vehicle, err := m.Vehicles.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}
	return m.setVehicleDriver(ctx, vehicle, "")
}

// clearDriverVehicle clears assignedVehicleId on the driver referenced by
// hex. A dangling or malformed reference counts as already cleared.
func (m *Manager) clearDriverVehicle(ctx context.Context, driverHex string) error {
	oid, err := primitive.ObjectIDFromHex(driverHex)
	if err != nil {
		return nil
	}
	driver, err := m.Users.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}
	return m.setDriverVehicle(ctx, driver, "")
}

func (m *Manager) setVehicleDriver(ctx context.Context, vehicle *models.Vehicle, driverHex string) error {
	res, err := m.Vehicles.UpdateOne(ctx,
		bson.M{"_id": vehicle.ID, "__v": vehicle.Version},
		bson.M{
			"$set": bson.M{
				"vehicle.driverId":  driverHex,
				"vehicle.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
			},
			"$inc": bson.M{"__v": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errStaleVersion
	}
	return nil
}

func (m *Manager) setDriverVehicle(ctx context.Context, driver *models.User, vehicleHex string) error {
	res, err := m.Users.UpdateOne(ctx,
		bson.M{"_id": driver.ID, "__v": driver.Version},
		bson.M{
			"$set": bson.M{
				"user.assignedVehicleId": vehicleHex,
				"user.updatedAt":         primitive.NewDateTimeFromTime(time.Now()),
			},
			"$inc": bson.M{"__v": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errStaleVersion
	}
	return nil
}
