// Package metrics provides Prometheus metrics for the mail archive service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphmail",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graphmail",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "graphmail",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// GraphRequestsTotal counts upstream Graph API calls by operation and status
	GraphRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphmail",
			Subsystem: "graph",
			Name:      "requests_total",
			Help:      "Total number of Microsoft Graph API requests by operation and status code",
		},
		[]string{"operation", "status"},
	)
)

var (
	// SyncRunsTotal counts sync pipeline runs by trigger and outcome
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphmail",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync pipeline runs by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	// SyncRunDuration measures sync run duration in seconds
	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "graphmail",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Sync pipeline run duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// SyncMessagesTotal counts processed messages by result
	SyncMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphmail",
			Subsystem: "sync",
			Name:      "messages_total",
			Help:      "Total number of messages processed by the sync pipeline by result",
		},
		[]string{"result"},
	)

	// SyncPagesFetched counts pages fetched from the provider
	SyncPagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "graphmail",
			Subsystem: "sync",
			Name:      "pages_fetched_total",
			Help:      "Total number of message pages fetched from the provider",
		},
	)

	// SchedulerCyclesSkipped counts scheduler ticks skipped because a
	// run was still in progress
	SchedulerCyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "graphmail",
			Subsystem: "sync",
			Name:      "scheduler_cycles_skipped_total",
			Help:      "Total number of scheduler cycles skipped due to an in-progress run",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		path := getRoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// getRoutePattern returns the route pattern from chi context, falling
// back to the URL path when no pattern matched
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
