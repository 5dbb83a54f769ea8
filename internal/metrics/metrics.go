// Package metrics provides Prometheus instrumentation for the EV engine.
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
	// CalculationsTotal counts EV calculations by method and outcome
	// ("success" or the failure code).
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evengine_calculations_total",
		Help: "Total EV calculations by method and outcome",
	}, []string{"method", "outcome"})

	// DevigFailuresTotal counts per-reference-book devig failures that
	// were swallowed during consensus averaging.
	DevigFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evengine_devig_failures_total",
		Help: "Reference-book devig failures excluded from the consensus",
	}, []string{"method"})

	// CacheRequestsTotal counts cache lookups by cache name and result.
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evengine_cache_requests_total",
		Help: "Cache lookups by cache and hit/miss",
	}, []string{"cache", "result"})

	// UpstreamFetchesTotal counts upstream offer fetches by outcome.
	UpstreamFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evengine_upstream_fetches_total",
		Help: "Upstream offer fetches by outcome",
	}, []string{"outcome"})

	// BatchItemsTotal counts batch item outcomes.
	BatchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evengine_batch_items_total",
		Help: "Batch items by outcome",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evengine_http_request_duration_seconds",
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

		// Use the raw path for the label; the route surface is small.
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
