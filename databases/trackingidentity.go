package databases

// go generate: mockery --name TrackingIdentityDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/swifthaul/logistics-api/models"
)

const trackingIdentityName = "vehicleTrackingIds"

// TrackingIdentityDatabase contains the methods to use with the tracking
// identity collection. Identities are created once per vehicle and never
// updated afterwards.
type TrackingIdentityDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.TrackingIdentity, error)
	FindByTrackingID(ctx context.Context, trackingID string) (*models.TrackingIdentity, error)
	InsertOne(ctx context.Context, identity models.TrackingIdentity) (InsertOneResultHelper, error)
	DeleteOne(ctx context.Context, filter interface{}) error
}

type trackingIdentityDatabase struct {
	db DatabaseHelper
}

// NewTrackingIdentityDatabase initializes a new instance of tracking identity database with the provided db connection
func NewTrackingIdentityDatabase(db DatabaseHelper) TrackingIdentityDatabase {
	return &trackingIdentityDatabase{
		db: db,
	}
}

func (t *trackingIdentityDatabase) FindOne(ctx context.Context, filter interface{}) (*models.TrackingIdentity, error) {
	identity := &models.TrackingIdentity{}
	err := t.db.Collection(trackingIdentityName).FindOne(ctx, filter).Decode(&identity)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (t *trackingIdentityDatabase) FindByTrackingID(ctx context.Context, trackingID string) (*models.TrackingIdentity, error) {
	return t.FindOne(ctx, bson.M{"trackingId": trackingID})
}

func (t *trackingIdentityDatabase) InsertOne(ctx context.Context, identity models.TrackingIdentity) (InsertOneResultHelper, error) {
	res := t.db.Collection(trackingIdentityName).InsertOne(ctx, identity)
	return res, nil
}

func (t *trackingIdentityDatabase) DeleteOne(ctx context.Context, filter interface{}) error {
	_, err := t.db.Collection(trackingIdentityName).DeleteOne(ctx, filter)
	return err
}
