package api

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// RequestTrace tracks timing for a single request
type RequestTrace struct {
	RequestID      string            `json:"requestId"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Status         int               `json:"status"`
	StartTime      time.Time         `json:"startTime"`
	EndTime        time.Time         `json:"endTime"`
	TotalDuration  time.Duration     `json:"totalDuration"`
	MiddlewareTime time.Duration     `json:"middlewareTime"`
	HandlerTime    time.Duration     `json:"handlerTime"`
	DBQueries      []DBQueryTrace    `json:"dbQueries"`
	DBTotalTime    time.Duration     `json:"dbTotalTime"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DBQueryTrace tracks a single database query
type DBQueryTrace struct {
	Operation  string        `json:"operation"`
	Collection string        `json:"collection"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// RouteMetrics aggregates metrics for a specific route
type RouteMetrics struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MinTime     time.Duration `json:"minTime"`
	MaxTime     time.Duration `json:"maxTime"`
	P50Time     time.Duration `json:"p50Time"`
	P95Time     time.Duration `json:"p95Time"`
	P99Time     time.Duration `json:"p99Time"`
	DBTotalTime time.Duration `json:"dbTotalTime"`
	DBAvgTime   time.Duration `json:"dbAvgTime"`
	LastRequest time.Time     `json:"lastRequest"`
}

// MetricsCollector collects and aggregates request metrics. Collection never
// blocks a request: traces are queued on a buffered channel and dropped when
// the buffer is full, and all aggregation happens on a background goroutine.
type MetricsCollector struct {
	mu             sync.RWMutex
	traces         []RequestTrace
	maxTraces      int
	routes         map[string]*RouteMetrics
	windowStart    time.Time
	windowDuration time.Duration
	totalRequests  int64
	totalErrors    int64
	totalDBQueries int64
	totalDBTime    time.Duration
	queue          chan RequestTrace
	stop           chan struct{}
}

var globalMetrics *MetricsCollector

// InitMetrics initializes the global metrics collector.
func InitMetrics(maxTraces int, windowDuration time.Duration) {
	globalMetrics = &MetricsCollector{
		traces:         make([]RequestTrace, 0, maxTraces),
		maxTraces:      maxTraces,
		routes:         make(map[string]*RouteMetrics),
		windowStart:    time.Now(),
		windowDuration: windowDuration,
		queue:          make(chan RequestTrace, 1000),
		stop:           make(chan struct{}),
	}

	go globalMetrics.run()
	go globalMetrics.expire()
}

// GetMetrics returns the global metrics collector
func GetMetrics() *MetricsCollector {
	if globalMetrics == nil {
		InitMetrics(10000, 1*time.Hour) // Default: 10k traces, 1 hour window
	}
	return globalMetrics
}

// RecordTrace queues a request trace for async aggregation. When the channel
// is full the trace is dropped; metrics are best-effort.
func (mc *MetricsCollector) RecordTrace(trace RequestTrace) {
	select {
	case mc.queue <- trace:
	default:
	}
}

// run drains the trace queue until shutdown.
func (mc *MetricsCollector) run() {
	for {
		select {
		case trace := <-mc.queue:
			mc.ingest(trace)
		case <-mc.stop:
			return
		}
	}
}

// ingest folds one trace into the aggregates. A panic here must never take
// the service down, so it is swallowed.
func (mc *MetricsCollector) ingest(trace RequestTrace) {
	defer func() {
		recover()
	}()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.traces) >= mc.maxTraces {
		mc.traces = mc.traces[1:]
	}
	mc.traces = append(mc.traces, trace)

	key := routeKey(trace.Method, trace.Path)
	route := mc.routes[key]
	if route == nil {
		route = &RouteMetrics{
			Method:  trace.Method,
			Path:    normalizeRoutePath(trace.Path),
			MinTime: trace.TotalDuration,
		}
		mc.routes[key] = route
	}

	route.Count++
	route.TotalTime += trace.TotalDuration
	route.AvgTime = route.TotalTime / time.Duration(route.Count)
	route.LastRequest = trace.StartTime
	if trace.TotalDuration < route.MinTime {
		route.MinTime = trace.TotalDuration
	}
	if trace.TotalDuration > route.MaxTime {
		route.MaxTime = trace.TotalDuration
	}
	if trace.Status >= 400 {
		route.ErrorCount++
		mc.totalErrors++
	}
	route.DBTotalTime += trace.DBTotalTime
	route.DBAvgTime = route.DBTotalTime / time.Duration(route.Count)

	mc.totalRequests++
	mc.totalDBQueries += int64(len(trace.DBQueries))
	mc.totalDBTime += trace.DBTotalTime

	// Percentiles are recomputed every 100 requests per route, not per trace.
	if route.Count%100 == 0 {
		mc.refreshPercentiles(key, route)
	}
}

// routeKey groups dynamic path segments so /vehicle/{id}/location aggregates
// as one route.
func routeKey(method, path string) string {
	return method + " " + normalizeRoutePath(path)
}

var (
	objectIDSegment = regexp.MustCompile(`/[0-9a-fA-F]{24}/`)
	uuidSegment     = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}/`)
	numericSegment  = regexp.MustCompile(`/\d{10,}/`)
)

// normalizeRoutePath replaces dynamic path segments with placeholders:
//
//	/api/v1/vehicle/507f1f77bcf86cd799439011/location -> /api/v1/vehicle/{id}/location
func normalizeRoutePath(path string) string {
	path = objectIDSegment.ReplaceAllString(path, "/{id}/")
	path = uuidSegment.ReplaceAllString(path, "/{id}/")
	path = numericSegment.ReplaceAllString(path, "/{id}/")
	path = strings.ReplaceAll(path, "//", "/")
	return strings.TrimSuffix(path, "/")
}

// GetTraces returns up to limit recent traces that started after since,
// oldest first.
func (mc *MetricsCollector) GetTraces(limit int, since time.Time) []RequestTrace {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var filtered []RequestTrace
	for i := len(mc.traces) - 1; i >= 0 && len(filtered) < limit; i-- {
		if mc.traces[i].StartTime.After(since) {
			filtered = append([]RequestTrace{mc.traces[i]}, filtered...)
		}
	}
	return filtered
}

// GetRouteMetrics returns a copy of the aggregated metrics for all routes.
func (mc *MetricsCollector) GetRouteMetrics() map[string]*RouteMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*RouteMetrics, len(mc.routes))
	for k, v := range mc.routes {
		route := *v
		result[k] = &route
	}
	return result
}

// GetSummary returns overall summary metrics
func (mc *MetricsCollector) GetSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	elapsed := time.Since(mc.windowStart)
	if elapsed > mc.windowDuration {
		elapsed = mc.windowDuration
	}

	var tps float64
	if elapsed.Seconds() > 0 {
		tps = float64(mc.totalRequests) / elapsed.Seconds()
	}
	var errorRate float64
	if mc.totalRequests > 0 {
		errorRate = float64(mc.totalErrors) / float64(mc.totalRequests)
	}
	var avgDBTime time.Duration
	if mc.totalDBQueries > 0 {
		avgDBTime = mc.totalDBTime / time.Duration(mc.totalDBQueries)
	}

	return map[string]interface{}{
		"totalRequests":  mc.totalRequests,
		"totalErrors":    mc.totalErrors,
		"errorRate":      errorRate,
		"tps":            tps,
		"totalDBQueries": mc.totalDBQueries,
		"totalDBTime":    mc.totalDBTime.String(),
		"avgDBTime":      avgDBTime.String(),
		"windowStart":    mc.windowStart,
		"windowEnd":      mc.windowStart.Add(mc.windowDuration),
		"routeCount":     len(mc.routes),
		"traceCount":     len(mc.traces),
	}
}

// rankedRoutes returns a page of route aggregates ordered by less.
func (mc *MetricsCollector) rankedRoutes(limit, offset int, less func(a, b *RouteMetrics) bool) []*RouteMetrics {
	mc.mu.RLock()
	routes := make([]*RouteMetrics, 0, len(mc.routes))
	for _, route := range mc.routes {
		copied := *route
		routes = append(routes, &copied)
	}
	mc.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool { return less(routes[i], routes[j]) })

	if offset >= len(routes) {
		return []*RouteMetrics{}
	}
	end := offset + limit
	if end > len(routes) {
		end = len(routes)
	}
	return routes[offset:end]
}

// GetSlowestRoutes returns the slowest routes by average time with pagination
func (mc *MetricsCollector) GetSlowestRoutes(limit int, offset int) []*RouteMetrics {
	return mc.rankedRoutes(limit, offset, func(a, b *RouteMetrics) bool {
		return a.AvgTime > b.AvgTime
	})
}

// GetMostFrequentRoutes returns the most frequently called routes with pagination
func (mc *MetricsCollector) GetMostFrequentRoutes(limit int, offset int) []*RouteMetrics {
	return mc.rankedRoutes(limit, offset, func(a, b *RouteMetrics) bool {
		return a.Count > b.Count
	})
}

// GetSlowestRoutesCount returns total count of routes
func (mc *MetricsCollector) GetSlowestRoutesCount() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.routes)
}

// refreshPercentiles recomputes P50, P95, P99 for a route from the traces
// still in the window. Caller holds mc.mu.
func (mc *MetricsCollector) refreshPercentiles(key string, route *RouteMetrics) {
	var durations []time.Duration
	for _, trace := range mc.traces {
		if routeKey(trace.Method, trace.Path) == key {
			durations = append(durations, trace.TotalDuration)
		}
	}
	if len(durations) == 0 {
		return
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	route.P50Time = durations[percentileIndex(len(durations), 0.50)]
	route.P95Time = durations[percentileIndex(len(durations), 0.95)]
	route.P99Time = durations[percentileIndex(len(durations), 0.99)]
}

func percentileIndex(n int, q float64) int {
	idx := int(float64(n) * q)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// expire drops traces older than the window and restarts the window when it
// lapses.
func (mc *MetricsCollector) expire() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		mc.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-mc.windowDuration)

		kept := mc.traces[:0]
		for _, trace := range mc.traces {
			if trace.StartTime.After(cutoff) {
				kept = append(kept, trace)
			}
		}
		mc.traces = kept

		if now.Sub(mc.windowStart) > mc.windowDuration {
			mc.windowStart = now
		}
		mc.mu.Unlock()
	}
}

// requestTraceContext holds a trace being built during request processing.
// The mutex covers DB query appends from concurrent handler goroutines.
type requestTraceContext struct {
	trace *RequestTrace
	mu    sync.Mutex
}

type requestTraceContextKey struct{}

// WithRequestTrace adds request trace to context
func WithRequestTrace(ctx context.Context, trace *RequestTrace) context.Context {
	return context.WithValue(ctx, requestTraceContextKey{}, &requestTraceContext{trace: trace})
}

// RecordDBQueryFromContext attributes one store query to the request being
// traced. Requests without a trace in their context are silently skipped.
func RecordDBQueryFromContext(ctx context.Context, operation, collection string, duration time.Duration, err error) {
	val := ctx.Value(requestTraceContextKey{})
	if val == nil {
		return
	}
	reqTrace := val.(*requestTraceContext)
	if reqTrace.trace == nil {
		return
	}

	query := DBQueryTrace{
		Operation:  operation,
		Collection: collection,
		Duration:   duration,
		Timestamp:  time.Now(),
	}
	if err != nil {
		query.Error = err.Error()
	}

	reqTrace.mu.Lock()
	reqTrace.trace.DBQueries = append(reqTrace.trace.DBQueries, query)
	reqTrace.trace.DBTotalTime += duration
	reqTrace.mu.Unlock()
}
