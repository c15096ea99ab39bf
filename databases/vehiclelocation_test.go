package databases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/databases/mocks"
	"github.com/swifthaul/logistics-api/models"
)

func TestVehicleLocationDatabase_FindOne(t *testing.T) {

	// define variables for interfaces
	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper
	var srHelperErr databases.SingleResultHelper
	var srHelperCorrect databases.SingleResultHelper

	// set interfaces implementation to mocked structures
	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}
	srHelperErr = &mocks.SingleResultHelper{}
	srHelperCorrect = &mocks.SingleResultHelper{}

	srHelperErr.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(errors.New("mocked-error"))

	srHelperCorrect.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.VehicleLocation)
		(*arg).VehicleID = "mocked-vehicle"
		(*arg).Lat = 12.9716
		(*arg).Lng = 77.5946
	})

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"error": true}).
		Return(srHelperErr)

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"error": false}).
		Return(srHelperCorrect)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "vehicleLocations").Return(collectionHelper)

	// Create new database with mocked Database interface
	locationDba := databases.NewVehicleLocationDatabase(dbHelper)

	// Call method with defined filter, that in our mocked function returns
	// mocked-error
	location, err := locationDba.FindOne(context.Background(), bson.M{"error": true})

	assert.Empty(t, location)
	assert.EqualError(t, err, "mocked-error")

	// Now call the same function with different different filter for correct
	// result
	location, err = locationDba.FindOne(context.Background(), bson.M{"error": false})

	assert.Equal(t, &models.VehicleLocation{VehicleID: "mocked-vehicle", Lat: 12.9716, Lng: 77.5946}, location)
	assert.NoError(t, err)
}

func TestVehicleLocationDatabase_Upsert(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	location := models.VehicleLocation{
		ID:        "veh-1",
		VehicleID: "veh-1",
		Lat:       12.9716,
		Lng:       77.5946,
		Timestamp: 1700000000000,
		Source:    models.LocationSourceGPS,
		UpdatedBy: "driver-1",
	}

	collectionHelper.
		On("UpdateOne", context.Background(), bson.M{"_id": "veh-1"}, bson.M{"$set": location}, mock.Anything).
		Return(&mongo.UpdateResult{UpsertedCount: 1}, nil)

	dbHelper.On("Collection", "vehicleLocations").Return(collectionHelper)

	locationDba := databases.NewVehicleLocationDatabase(dbHelper)

	err := locationDba.Upsert(context.Background(), location)

	assert.NoError(t, err)
	collectionHelper.AssertExpectations(t)
}

func TestVehicleLocationDatabase_DeleteOne(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	collectionHelper.
		On("DeleteOne", context.Background(), bson.M{"_id": "veh-1"}).
		Return(&mongo.DeleteResult{DeletedCount: 1}, nil)

	dbHelper.On("Collection", "vehicleLocations").Return(collectionHelper)

	locationDba := databases.NewVehicleLocationDatabase(dbHelper)

	err := locationDba.DeleteOne(context.Background(), bson.M{"_id": "veh-1"})

	assert.NoError(t, err)
}
