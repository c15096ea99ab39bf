package api

import (
	"context"
	"time"
)

// Store access deadlines. Interactive reads get QueryTimeout; the location
// ingest path uses the tighter WriteTimeout because a slow upsert must not
// stall a driver's socket frame loop.
const (
	QueryTimeout = 10 * time.Second
	WriteTimeout = 3 * time.Second
)

// WithQueryTimeout bounds a store read issued on behalf of a request.
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

// WithWriteTimeout bounds a location write. Sessions run on long-lived
// contexts, so every individual upsert carries its own deadline.
func WithWriteTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, WriteTimeout)
}
