// Package metrics provides Prometheus instrumentation for the wheel engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsAppended counts ledger events accepted, partitioned by type.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheel_events_appended_total",
		Help: "Total trade events appended to the ledger",
	}, []string{"event_type"})

	// TransitionRejections counts events rejected by the state machine.
	TransitionRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wheel_transition_rejections_total",
		Help: "Events rejected as illegal lifecycle transitions",
	})

	// VersionConflicts counts optimistic-concurrency retries forced on callers.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wheel_version_conflicts_total",
		Help: "Appends rejected because the position version changed",
	})

	// StalePriceResults counts P&L results served with a stale price mark.
	StalePriceResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wheel_stale_price_results_total",
		Help: "Position P&L results computed with stale or missing prices",
	})

	// ReportDuration tracks dashboard assembly latency by time range.
	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wheel_report_duration_seconds",
		Help:    "Dashboard report assembly latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"time_range"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wheel_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheel_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wheel_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
