package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
)

// MetricsHandler serves the admin observability endpoints.
type MetricsHandler struct{}

// queryInt parses a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

// querySince resolves the "since" parameter (a duration like "30m") into an
// absolute cutoff, defaulting to the last hour.
func querySince(r *http.Request) time.Time {
	if raw := r.URL.Query().Get("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return time.Now().Add(-d)
		}
	}
	return time.Now().Add(-1 * time.Hour)
}

// formatRouteMetrics converts duration fields to milliseconds for JSON serialization
func formatRouteMetrics(routes []*api.RouteMetrics) []map[string]interface{} {
	result := make([]map[string]interface{}, len(routes))
	for i, route := range routes {
		result[i] = map[string]interface{}{
			"method":      route.Method,
			"path":        route.Path,
			"count":       route.Count,
			"errorCount":  route.ErrorCount,
			"avgTime":     route.AvgTime.Milliseconds(),
			"minTime":     route.MinTime.Milliseconds(),
			"maxTime":     route.MaxTime.Milliseconds(),
			"p50Time":     route.P50Time.Milliseconds(),
			"p95Time":     route.P95Time.Milliseconds(),
			"p99Time":     route.P99Time.Milliseconds(),
			"dbAvgTime":   route.DBAvgTime.Milliseconds(),
			"lastRequest": route.LastRequest,
		}
	}
	return result
}

// formatTraces converts trace durations to milliseconds
func formatTraces(traces []api.RequestTrace) []map[string]interface{} {
	result := make([]map[string]interface{}, len(traces))
	for i, trace := range traces {
		dbQueries := make([]map[string]interface{}, len(trace.DBQueries))
		for j, q := range trace.DBQueries {
			dbQueries[j] = map[string]interface{}{
				"operation":  q.Operation,
				"collection": q.Collection,
				"duration":   q.Duration.Milliseconds(),
				"error":      q.Error,
				"timestamp":  q.Timestamp,
			}
		}
		result[i] = map[string]interface{}{
			"requestId":      trace.RequestID,
			"method":         trace.Method,
			"path":           trace.Path,
			"status":         trace.Status,
			"startTime":      trace.StartTime,
			"endTime":        trace.EndTime,
			"totalDuration":  trace.TotalDuration.Milliseconds(),
			"middlewareTime": trace.MiddlewareTime.Milliseconds(),
			"handlerTime":    trace.HandlerTime.Milliseconds(),
			"dbQueries":      dbQueries,
			"dbTotalTime":    trace.DBTotalTime.Milliseconds(),
			"error":          trace.Error,
			"metadata":       trace.Metadata,
		}
	}
	return result
}

func writeMetricsJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// GetMetricsDashboard returns the full dashboard payload: summary, ranked
// routes, and recent traces in one response.
func (m MetricsHandler) GetMetricsDashboard(w http.ResponseWriter, r *http.Request) {
	metrics := api.GetMetrics()

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	since := querySince(r)

	totalRoutes := metrics.GetSlowestRoutesCount()
	writeMetricsJSON(w, map[string]interface{}{
		"summary": metrics.GetSummary(),
		"routes": map[string]interface{}{
			"slowest":      formatRouteMetrics(metrics.GetSlowestRoutes(limit, offset)),
			"mostFrequent": formatRouteMetrics(metrics.GetMostFrequentRoutes(limit, offset)),
			"totalCount":   totalRoutes,
		},
		"recentTraces": formatTraces(metrics.GetTraces(limit, since)),
		"pagination": map[string]interface{}{
			"limit":   limit,
			"offset":  offset,
			"total":   totalRoutes,
			"hasMore": offset+limit < totalRoutes,
		},
		"filters": map[string]interface{}{
			"since": since,
		},
	})
}

// GetMetricsSummary returns just the summary metrics (lighter endpoint)
func (m MetricsHandler) GetMetricsSummary(w http.ResponseWriter, r *http.Request) {
	writeMetricsJSON(w, api.GetMetrics().GetSummary())
}

// GetRoutesMetrics returns per-route aggregates. With a route query param it
// returns that route alone; otherwise the paginated listing.
func (m MetricsHandler) GetRoutesMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := api.GetMetrics()

	if route := r.URL.Query().Get("route"); route != "" {
		routeData, exists := metrics.GetRouteMetrics()[route]
		if !exists {
			config.ErrorStatus("route not found", http.StatusNotFound, w, errors.New("no metrics recorded for route"))
			return
		}
		writeMetricsJSON(w, routeData)
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	totalRoutes := metrics.GetSlowestRoutesCount()
	writeMetricsJSON(w, map[string]interface{}{
		"slowest":      formatRouteMetrics(metrics.GetSlowestRoutes(limit, offset)),
		"mostFrequent": formatRouteMetrics(metrics.GetMostFrequentRoutes(limit, offset)),
		"pagination": map[string]interface{}{
			"limit":   limit,
			"offset":  offset,
			"total":   totalRoutes,
			"hasMore": offset+limit < totalRoutes,
		},
	})
}

// GetSlowQueries returns store queries slower than minDuration (default
// 100ms) from recent traces.
func (m MetricsHandler) GetSlowQueries(w http.ResponseWriter, r *http.Request) {
	metrics := api.GetMetrics()

	limit := queryInt(r, "limit", 100)
	since := querySince(r)

	minDuration := 100 * time.Millisecond
	if raw := r.URL.Query().Get("minDuration"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			minDuration = parsed
		}
	}

	// Over-fetch traces because most carry no slow queries.
	traces := metrics.GetTraces(limit*10, since)

	var slowQueries []map[string]interface{}
	for _, trace := range traces {
		for _, query := range trace.DBQueries {
			if query.Duration >= minDuration {
				slowQueries = append(slowQueries, map[string]interface{}{
					"requestId":  trace.RequestID,
					"method":     trace.Method,
					"path":       trace.Path,
					"operation":  query.Operation,
					"collection": query.Collection,
					"duration":   query.Duration.String(),
					"error":      query.Error,
					"timestamp":  query.Timestamp,
				})
			}
		}
		if len(slowQueries) >= limit {
			break
		}
	}

	writeMetricsJSON(w, map[string]interface{}{
		"slowQueries": slowQueries,
		"count":       len(slowQueries),
		"filters": map[string]interface{}{
			"minDuration": minDuration.String(),
			"since":       since,
		},
	})
}
