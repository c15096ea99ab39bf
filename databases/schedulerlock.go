package databases

// go generate: mockery --name SchedulerLockDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const schedulerLockName = "schedulerLocks"

// SchedulerLockDatabase is a mongo-backed distributed lock keyed by job name.
// A lock is free when no document exists or the holder's TTL has lapsed, so a
// crashed instance cannot wedge a job forever.
type SchedulerLockDatabase interface {
	TryAcquireLock(ctx context.Context, jobName string, instanceID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, jobName string, instanceID string) error
}

type schedulerLockDatabase struct {
	db DatabaseHelper
}

// NewSchedulerLockDatabase initializes a new instance of scheduler lock database with the provided db connection
func NewSchedulerLockDatabase(db DatabaseHelper) SchedulerLockDatabase {
	return &schedulerLockDatabase{
		db: db,
	}
}

func (s *schedulerLockDatabase) TryAcquireLock(ctx context.Context, jobName string, instanceID string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	upsert := true

	// The filter only matches a free or own lock; a live lock held by another
	// instance makes the upsert collide on _id, which reports as a duplicate
	// key error rather than a real failure.
	res, err := s.db.Collection(schedulerLockName).UpdateOne(ctx,
		bson.M{
			"_id": jobName,
			"$or": []bson.M{
				{"expiresAt": bson.M{"$lt": now}},
				{"instanceId": instanceID},
			},
		},
		bson.M{"$set": bson.M{
			"instanceId": instanceID,
			"acquiredAt": now,
			"expiresAt":  now + ttl.Milliseconds(),
		}},
		&options.UpdateOptions{Upsert: &upsert},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *schedulerLockDatabase) ReleaseLock(ctx context.Context, jobName string, instanceID string) error {
	_, err := s.db.Collection(schedulerLockName).DeleteOne(ctx, bson.M{
		"_id":        jobName,
		"instanceId": instanceID,
	})
	return err
}
