package tracking_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/swifthaul/logistics-api/databases/mocks"
	"github.com/swifthaul/logistics-api/models"
	"github.com/swifthaul/logistics-api/tracking"
)

func TestDeriveTrackingIDIsDeterministic(t *testing.T) {
	first := tracking.DeriveTrackingID("veh-8f2a91c3")
	second := tracking.DeriveTrackingID("veh-8f2a91c3")

	assert.Equal(t, first, second)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{0,4}[0-9]{4}$`), first)
}

func TestDeriveTrackingIDShape(t *testing.T) {
	// Prefix takes the first four alphanumerics uppercased, skipping
	// punctuation, then a four digit hash of the full ID.
	code := tracking.DeriveTrackingID("veh-123")
	assert.Len(t, code, 8)
	assert.Equal(t, "VEH1", code[:4])

	// Short IDs use what exists.
	assert.Equal(t, "AB3105", tracking.DeriveTrackingID("ab"))
}

func TestResolverGetOrCreateIsIdempotent(t *testing.T) {
	identities := &mocks.TrackingIdentityDatabase{}

	identities.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, mongo.ErrNoDocuments).Once()
	identities.On("InsertOne", mock.Anything, mock.Anything).
		Return(nil, nil).Once()

	resolver := &tracking.Resolver{Identities: identities}

	first, err := resolver.GetOrCreate(context.Background(), "veh-1", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.DeriveTrackingID("veh-1"), first)

	// The second call hits the stored record and must not write again.
	identities.On("FindOne", mock.Anything, mock.Anything).
		Return(&models.TrackingIdentity{
			ID:         "veh-1",
			VehicleID:  "veh-1",
			TrackingID: first,
		}, nil)

	second, err := resolver.GetOrCreate(context.Background(), "veh-1", "admin-2")
	assert.NoError(t, err)
	assert.Equal(t, first, second)

	identities.AssertNumberOfCalls(t, "InsertOne", 1)
}

func TestResolverReturnsStoredCodeUnchanged(t *testing.T) {
	identities := &mocks.TrackingIdentityDatabase{}

	// A stored code wins even if the derivation rules have since changed.
	identities.On("FindOne", mock.Anything, mock.Anything).
		Return(&models.TrackingIdentity{
			ID:         "veh-1",
			VehicleID:  "veh-1",
			TrackingID: "LEGACY99",
		}, nil)

	resolver := &tracking.Resolver{Identities: identities}

	code, err := resolver.GetOrCreate(context.Background(), "veh-1", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, "LEGACY99", code)
}

func TestResolverServesUnpersistedCodeOnStoreFailure(t *testing.T) {
	identities := &mocks.TrackingIdentityDatabase{}

	identities.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	resolver := &tracking.Resolver{Identities: identities}

	code, err := resolver.GetOrCreate(context.Background(), "veh-1", "driver-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.DeriveTrackingID("veh-1"), code)

	identities.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestResolverToleratesLostInsertRace(t *testing.T) {
	identities := &mocks.TrackingIdentityDatabase{}

	identities.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, mongo.ErrNoDocuments)
	// A concurrent first-caller won the insert; both computed the same code,
	// so the duplicate key is benign.
	identities.On("InsertOne", mock.Anything, mock.Anything).
		Return(nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}})

	resolver := &tracking.Resolver{Identities: identities}

	code, err := resolver.GetOrCreate(context.Background(), "veh-1", "driver-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.DeriveTrackingID("veh-1"), code)
}
