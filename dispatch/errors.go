package dispatch

import "errors"

// Sentinel errors returned by the assignment and booking protocols. Handlers
// map these onto HTTP status codes.
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidRole        = errors.New("user is not a driver")
	ErrConflict           = errors.New("concurrent assignment conflict")
	ErrInvalidTransition  = errors.New("invalid booking status transition")
	ErrVehicleUnavailable = errors.New("vehicle is not available")
	ErrNoDriverAssigned   = errors.New("vehicle has no driver assigned")
)

// errStaleVersion is the internal CAS miss signal: a versioned update matched
// nothing because another writer moved the record first. Assign retries the
// whole protocol on it.
var errStaleVersion = errors.New("stale record version")
