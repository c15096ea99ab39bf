package databases

// go generate: mockery --name VehicleLocationDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/swifthaul/logistics-api/models"
)

const vehicleLocationName = "vehicleLocations"

// VehicleLocationDatabase contains the methods to use with the live location
// collection. One record per vehicle, keyed by vehicle ID and overwritten in
// place, so writes are upserts.
type VehicleLocationDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.VehicleLocation, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.VehicleLocation, error)
	Upsert(ctx context.Context, location models.VehicleLocation) error
	DeleteOne(ctx context.Context, filter interface{}) error
}

type vehicleLocationDatabase struct {
	db DatabaseHelper
}

// NewVehicleLocationDatabase initializes a new instance of vehicle location database with the provided db connection
func NewVehicleLocationDatabase(db DatabaseHelper) VehicleLocationDatabase {
	return &vehicleLocationDatabase{
		db: db,
	}
}

func (v *vehicleLocationDatabase) FindOne(ctx context.Context, filter interface{}) (*models.VehicleLocation, error) {
	location := &models.VehicleLocation{}
	err := v.db.Collection(vehicleLocationName).FindOne(ctx, filter).Decode(&location)
	if err != nil {
		return nil, err
	}
	return location, nil
}

func (v *vehicleLocationDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.VehicleLocation, error) {
	var locations []models.VehicleLocation
	err := v.db.Collection(vehicleLocationName).Find(ctx, filter, opts...).Decode(&locations)
	if err != nil {
		return nil, err
	}
	return locations, nil
}

func (v *vehicleLocationDatabase) Upsert(ctx context.Context, location models.VehicleLocation) error {
	upsert := true
	_, err := v.db.Collection(vehicleLocationName).UpdateOne(ctx,
		bson.M{"_id": location.ID},
		bson.M{"$set": location},
		&options.UpdateOptions{Upsert: &upsert},
	)
	return err
}

func (v *vehicleLocationDatabase) DeleteOne(ctx context.Context, filter interface{}) error {
	_, err := v.db.Collection(vehicleLocationName).DeleteOne(ctx, filter)
	return err
}
