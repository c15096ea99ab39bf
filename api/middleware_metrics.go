package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// slowRequestThreshold marks requests worth a warning log.
const slowRequestThreshold = 1 * time.Second

// untracked reports whether a path is excluded from request tracing: the
// metrics surface itself, the health probe, and the long-lived realtime
// connections. A socket held open for hours is not a request latency.
func untracked(path string) bool {
	switch path {
	case "/api/v1/metrics", "/api/v1/metrics/routes", "/health":
		return true
	}
	return strings.HasPrefix(path, "/socket.io/") || strings.HasPrefix(path, "/ws/")
}

// MetricsMiddleware traces each request: timing split, status, and the DB
// queries handlers record through the trace context.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if untracked(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		trace := &RequestTrace{
			RequestID: uuid.New().String(),
			Method:    r.Method,
			Path:      r.URL.Path,
			StartTime: time.Now(),
			DBQueries: make([]DBQueryTrace, 0),
			Metadata:  make(map[string]string),
		}
		r = r.WithContext(WithRequestTrace(r.Context(), trace))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handlerStart := time.Now()
		next.ServeHTTP(wrapped, r)
		handlerTime := time.Since(handlerStart)

		trace.EndTime = time.Now()
		trace.TotalDuration = trace.EndTime.Sub(trace.StartTime)
		trace.HandlerTime = handlerTime
		trace.MiddlewareTime = trace.TotalDuration - handlerTime
		trace.Status = wrapped.statusCode
		if wrapped.statusCode >= 400 {
			trace.Error = http.StatusText(wrapped.statusCode)
		}

		GetMetrics().RecordTrace(*trace)

		if trace.TotalDuration > slowRequestThreshold {
			go logSlowRequest(*trace)
		}
	})
}

// logSlowRequest runs off the request goroutine so logging can never hold up
// a response.
func logSlowRequest(trace RequestTrace) {
	defer func() {
		recover()
	}()
	zap.S().Warnw("Slow request detected",
		"requestId", trace.RequestID,
		"method", trace.Method,
		"path", trace.Path,
		"duration", trace.TotalDuration,
		"status", trace.Status,
		"dbQueries", len(trace.DBQueries),
		"dbTime", trace.DBTotalTime,
	)
}

// responseWriter captures the status code for the trace. It forwards Hijack
// so an upgrade through the middleware still works.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}
