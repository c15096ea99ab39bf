package databases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/databases/mocks"
)

func TestSchedulerLockDatabase_TryAcquireLock(t *testing.T) {
	t.Run("acquires a free lock", func(t *testing.T) {
		dbHelper := &mocks.DatabaseHelper{}
		collectionHelper := &mocks.CollectionHelper{}

		collectionHelper.
			On("UpdateOne", context.Background(), mock.Anything, mock.Anything, mock.Anything).
			Return(&mongo.UpdateResult{UpsertedCount: 1}, nil)

		dbHelper.On("Collection", "schedulerLocks").Return(collectionHelper)

		lockDB := databases.NewSchedulerLockDatabase(dbHelper)

		acquired, err := lockDB.TryAcquireLock(context.Background(), "assignment-sweep", "instance-1", 5*time.Minute)

		assert.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("re-enters a lock it already holds", func(t *testing.T) {
		dbHelper := &mocks.DatabaseHelper{}
		collectionHelper := &mocks.CollectionHelper{}

		collectionHelper.
			On("UpdateOne", context.Background(), mock.Anything, mock.Anything, mock.Anything).
			Return(&mongo.UpdateResult{MatchedCount: 1}, nil)

		dbHelper.On("Collection", "schedulerLocks").Return(collectionHelper)

		lockDB := databases.NewSchedulerLockDatabase(dbHelper)

		acquired, err := lockDB.TryAcquireLock(context.Background(), "assignment-sweep", "instance-1", 5*time.Minute)

		assert.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("reports a live lock held elsewhere as not acquired", func(t *testing.T) {
		dbHelper := &mocks.DatabaseHelper{}
		collectionHelper := &mocks.CollectionHelper{}

		// A live lock makes the upsert collide on _id, which surfaces as a
		// duplicate key write error.
		dupErr := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}
		collectionHelper.
			On("UpdateOne", context.Background(), mock.Anything, mock.Anything, mock.Anything).
			Return(nil, dupErr)

		dbHelper.On("Collection", "schedulerLocks").Return(collectionHelper)

		lockDB := databases.NewSchedulerLockDatabase(dbHelper)

		acquired, err := lockDB.TryAcquireLock(context.Background(), "assignment-sweep", "instance-2", 5*time.Minute)

		assert.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("propagates unexpected errors", func(t *testing.T) {
		dbHelper := &mocks.DatabaseHelper{}
		collectionHelper := &mocks.CollectionHelper{}

		collectionHelper.
			On("UpdateOne", context.Background(), mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("mocked-error"))

		dbHelper.On("Collection", "schedulerLocks").Return(collectionHelper)

		lockDB := databases.NewSchedulerLockDatabase(dbHelper)

		acquired, err := lockDB.TryAcquireLock(context.Background(), "assignment-sweep", "instance-1", 5*time.Minute)

		assert.EqualError(t, err, "mocked-error")
		assert.False(t, acquired)
	})
}

func TestSchedulerLockDatabase_ReleaseLock(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	collectionHelper.
		On("DeleteOne", context.Background(), mock.Anything).
		Return(&mongo.DeleteResult{DeletedCount: 1}, nil)

	dbHelper.On("Collection", "schedulerLocks").Return(collectionHelper)

	lockDB := databases.NewSchedulerLockDatabase(dbHelper)

	err := lockDB.ReleaseLock(context.Background(), "assignment-sweep", "instance-1")

	assert.NoError(t, err)
}
