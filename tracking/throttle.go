package tracking

import (
	"github.com/swifthaul/logistics-api/geo"
	"github.com/swifthaul/logistics-api/models"
)

// Throttle admission thresholds. IP-derived coordinates carry city-block
// precision, so they get a much coarser displacement gate than GPS fixes.
const (
	minWriteIntervalMs = 5000

	minDisplacementGPSMeters = 10.0
	minDisplacementIPMeters  = 100.0
)

// Reading is one raw position sample entering the pipeline.
type Reading struct {
	VehicleID string
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp int64 // unix millis
	Source    string
	Force     bool
	UpdatedBy string
}

// Admit reports whether reading should be written, given the vehicle's last
// admitted record (nil when nothing has been written yet). Rules, in order:
// a forced reading always passes, then the elapsed-time gate, then the
// source-dependent displacement gate.
func Admit(reading Reading, last *models.VehicleLocation) bool {
	if reading.Force {
		return true
	}
	if last == nil {
		return true
	}
	if reading.Timestamp-last.Timestamp < minWriteIntervalMs {
		return false
	}

	displacement := geo.Distance(last.Lat, last.Lng, reading.Lat, reading.Lng)
	threshold := minDisplacementGPSMeters
	if reading.Source == models.LocationSourceIP {
		threshold = minDisplacementIPMeters
	}
	return displacement >= threshold
}
