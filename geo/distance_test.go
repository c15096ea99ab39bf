package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceZero(t *testing.T) {
	d := Distance(12.9716, 77.5946, 12.9716, 77.5946)
	assert.Equal(t, 0.0, d)
}

func TestDistanceKnownPair(t *testing.T) {
	// one degree of latitude is roughly 111.19 km
	d := Distance(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 100)
}

func TestDistanceShortDisplacement(t *testing.T) {
	// ~56 m hop used by the live-tracking flow
	d := Distance(12.9716, 77.5946, 12.9721, 77.5946)
	assert.InDelta(t, 55.6, d, 1.0)
}

func TestDistanceSymmetry(t *testing.T) {
	a := Distance(19.0760, 72.8777, 28.7041, 77.1025)
	b := Distance(28.7041, 77.1025, 19.0760, 72.8777)
	assert.InDelta(t, a, b, 1e-9)
}

func TestDistanceKm(t *testing.T) {
	m := Distance(19.0760, 72.8777, 28.7041, 77.1025)
	km := DistanceKm(19.0760, 72.8777, 28.7041, 77.1025)
	assert.InDelta(t, m/1000, km, 1e-9)
}
