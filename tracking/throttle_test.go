package tracking_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swifthaul/logistics-api/geo"
	"github.com/swifthaul/logistics-api/models"
	"github.com/swifthaul/logistics-api/tracking"
)

// latDegrees converts a displacement in meters to a latitude delta, exact for
// movement along a meridian.
func latDegrees(meters float64) float64 {
	return meters / geo.EarthRadiusMeters * 180 / math.Pi
}

func gpsReading(lat, lng float64, ts int64) tracking.Reading {
	return tracking.Reading{
		VehicleID: "veh-1",
		Lat:       lat,
		Lng:       lng,
		Timestamp: ts,
		Source:    models.LocationSourceGPS,
		UpdatedBy: "driver-1",
	}
}

func admitted(r tracking.Reading) *models.VehicleLocation {
	return &models.VehicleLocation{
		ID:        r.VehicleID,
		VehicleID: r.VehicleID,
		Lat:       r.Lat,
		Lng:       r.Lng,
		Timestamp: r.Timestamp,
		Source:    r.Source,
		UpdatedBy: r.UpdatedBy,
	}
}

func TestAdmitFirstReading(t *testing.T) {
	assert.True(t, tracking.Admit(gpsReading(12.9716, 77.5946, 0), nil))
}

func TestAdmitTimeGate(t *testing.T) {
	// Readings at 0, 1000, 4000 and 6000 ms, each moving well past the
	// distance gate. Only the first and last clear the 5000 ms window.
	step := latDegrees(22)

	first := gpsReading(12.0, 77.0, 0)
	assert.True(t, tracking.Admit(first, nil))
	last := admitted(first)

	assert.False(t, tracking.Admit(gpsReading(12.0+step, 77.0, 1000), last))
	assert.False(t, tracking.Admit(gpsReading(12.0+2*step, 77.0, 4000), last))
	assert.True(t, tracking.Admit(gpsReading(12.0+3*step, 77.0, 6000), last))
}

func TestAdmitDistanceGateGPS(t *testing.T) {
	first := gpsReading(12.0, 77.0, 0)
	last := admitted(first)

	assert.False(t, tracking.Admit(gpsReading(12.0+latDegrees(3), 77.0, 6000), last),
		"3 m of movement is below the 10 m GPS gate")
	assert.True(t, tracking.Admit(gpsReading(12.0+latDegrees(15), 77.0, 6000), last))
}

func TestAdmitDistanceGateIP(t *testing.T) {
	first := tracking.Reading{VehicleID: "veh-1", Lat: 12.0, Lng: 77.0, Source: models.LocationSourceIP}
	last := admitted(first)

	reject := tracking.Reading{VehicleID: "veh-1", Lat: 12.0 + latDegrees(99), Lng: 77.0, Timestamp: 6000, Source: models.LocationSourceIP}
	accept := tracking.Reading{VehicleID: "veh-1", Lat: 12.0 + latDegrees(101), Lng: 77.0, Timestamp: 6000, Source: models.LocationSourceIP}

	assert.False(t, tracking.Admit(reject, last), "99 m is below the 100 m IP gate")
	assert.True(t, tracking.Admit(accept, last))
}

func TestAdmitForceBypassesEveryGate(t *testing.T) {
	first := gpsReading(12.0, 77.0, 0)
	last := admitted(first)

	// Same coordinate, zero elapsed time.
	force := gpsReading(12.0, 77.0, 0)
	force.Force = true

	assert.True(t, tracking.Admit(force, last))
}
