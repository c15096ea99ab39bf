package tracking

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
)

// subscriberBuffer bounds each subscription channel. When a watcher falls
// behind, the oldest buffered update is dropped so it converges on fresh data
// without ever blocking a publish.
const subscriberBuffer = 16

// Store is the write path for live vehicle locations: it applies throttle
// admission, resolves the tracking identity, upserts the single live record
// per vehicle, and pushes the admitted record to subscribers in commit order.
type Store struct {
	Locations databases.VehicleLocationDatabase
	Resolver  *Resolver

	mu     sync.RWMutex
	last   map[string]models.VehicleLocation
	subs   map[string]map[uint64]chan models.VehicleLocation
	nextID uint64
}

// NewStore initializes a store over the given location collection and
// identity resolver.
func NewStore(locations databases.VehicleLocationDatabase, resolver *Resolver) *Store {
	return &Store{
		Locations: locations,
		Resolver:  resolver,
		last:      make(map[string]models.VehicleLocation),
		subs:      make(map[string]map[uint64]chan models.VehicleLocation),
	}
}

// Publish runs one admission cycle for reading. It returns whether the
// reading was admitted. A store failure is logged and the cycle abandoned;
// the next admitted cycle is the de facto retry.
func (st *Store) Publish(ctx context.Context, reading Reading) (bool, error) {
	if !reading.Force && !Admit(reading, st.lastAdmitted(ctx, reading.VehicleID)) {
		return false, nil
	}

	trackingID, err := st.Resolver.GetOrCreate(ctx, reading.VehicleID, reading.UpdatedBy)
	if err != nil {
		return false, err
	}

	record := models.VehicleLocation{
		ID:         reading.VehicleID,
		VehicleID:  reading.VehicleID,
		TrackingID: trackingID,
		Lat:        reading.Lat,
		Lng:        reading.Lng,
		Timestamp:  reading.Timestamp,
		Source:     reading.Source,
		UpdatedBy:  reading.UpdatedBy,
	}
	if err := st.Locations.Upsert(ctx, record); err != nil {
		zap.S().Errorw("location write failed", "vehicleId", reading.VehicleID, "error", err)
		return false, err
	}

	// Fan out under the lock so subscribers observe commit order per vehicle.
	// Sends never block (drop-oldest), so holding the lock here is cheap.
	st.mu.Lock()
	st.last[reading.VehicleID] = record
	for _, ch := range st.subs[reading.VehicleID] {
		pushLocation(ch, record)
	}
	st.mu.Unlock()

	return true, nil
}

// Latest reads the live record for a vehicle straight from the store.
func (st *Store) Latest(ctx context.Context, vehicleID string) (*models.VehicleLocation, error) {
	return st.Locations.FindOne(ctx, bson.M{"_id": vehicleID})
}

// Remove deletes the live record and tracking identity for a vehicle. Part of
// the vehicle deletion cascade.
func (st *Store) Remove(ctx context.Context, vehicleID string) error {
	if err := st.Locations.DeleteOne(ctx, bson.M{"_id": vehicleID}); err != nil {
		return err
	}
	if err := st.Resolver.Remove(ctx, vehicleID); err != nil {
		return err
	}

	st.mu.Lock()
	delete(st.last, vehicleID)
	st.mu.Unlock()
	return nil
}

// Subscribe registers interest in a vehicle's admitted locations. The cancel
// function unregisters and closes the channel; it is safe to call twice.
func (st *Store) Subscribe(vehicleID string) (<-chan models.VehicleLocation, func()) {
	ch := make(chan models.VehicleLocation, subscriberBuffer)

	st.mu.Lock()
	st.nextID++
	id := st.nextID
	if st.subs[vehicleID] == nil {
		st.subs[vehicleID] = make(map[uint64]chan models.VehicleLocation)
	}
	st.subs[vehicleID][id] = ch
	st.mu.Unlock()

	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		subs, ok := st.subs[vehicleID]
		if !ok {
			return
		}
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(st.subs, vehicleID)
		}
		close(ch)
	}
	return ch, cancel
}

// lastAdmitted returns the vehicle's last admitted record for throttle
// decisions: the in-memory copy when this process wrote it, otherwise the
// stored record. Read failures admit the reading rather than stall the
// pipeline.
func (st *Store) lastAdmitted(ctx context.Context, vehicleID string) *models.VehicleLocation {
	st.mu.RLock()
	cached, ok := st.last[vehicleID]
	st.mu.RUnlock()
	if ok {
		return &cached
	}

	stored, err := st.Locations.FindOne(ctx, bson.M{"_id": vehicleID})
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Debugw("last location lookup failed", "vehicleId", vehicleID, "error", err)
		}
		return nil
	}
	return stored
}

func pushLocation(ch chan models.VehicleLocation, loc models.VehicleLocation) {
	select {
	case ch <- loc:
		return
	default:
	}

	// Buffer full: drop the oldest update, then try once more. A concurrent
	// drain between the two selects just means the subscriber caught up.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- loc:
	default:
	}
}
