// Package geolocation abstracts position acquisition for driver devices and
// provides the IP-derived fallback used when no device fix can be obtained.
package geolocation

import (
	"context"
	"errors"
	"time"
)

// Acquisition errors mirror the numbered error codes driver devices report.
var (
	ErrPermissionDenied    = errors.New("geolocation permission denied")
	ErrPositionUnavailable = errors.New("geolocation position unavailable")
	ErrTimeout             = errors.New("geolocation timeout")
)

// Position is a single device fix. Accuracy is the reported radius in meters,
// Timestamp is unix milliseconds.
type Position struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// Options tune an acquisition request. A zero MaximumAge demands a fresh fix;
// a non-zero value lets the device serve a cached one no older than that.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Provider yields positions from a driver device. CurrentPosition blocks for a
// single fix. WatchPosition streams fixes until the stop function is called or
// ctx is done; both channels close on teardown.
type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
	WatchPosition(ctx context.Context, opts Options) (<-chan Position, <-chan error, func())
}

// ErrorFromCode maps the numeric error codes devices send over the wire to the
// package error values. Unknown codes are treated as unavailable.
func ErrorFromCode(code int) error {
	switch code {
	case 1:
		return ErrPermissionDenied
	case 2:
		return ErrPositionUnavailable
	case 3:
		return ErrTimeout
	default:
		return ErrPositionUnavailable
	}
}
