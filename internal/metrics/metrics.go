// Package metrics provides Prometheus instrumentation for the CGT engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReplaysTotal counts holding replays, partitioned by outcome
	// ("ok", "invalid", "insufficient_pool", "error") and whether the
	// result was persisted.
	ReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgt_replays_total",
		Help: "Total number of holding replays",
	}, []string{"outcome", "mode"})

	// ReplayLatency tracks replay latency including persistence.
	ReplayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cgt_replay_latency_seconds",
		Help:    "Holding replay latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// DisposalLegs counts matched disposal chunks by identification rule.
	DisposalLegs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgt_disposal_legs_total",
		Help: "Matched disposal chunks by rule",
	}, []string{"rule"})

	// DisallowedLoss accumulates losses disallowed by the 30-day rule in
	// persisted replays.
	DisallowedLoss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cgt_disallowed_loss_total",
		Help: "Cumulative disallowed loss in pounds",
	})

	// TransactionsRecorded counts recorded transactions by side and source
	// ("api", "csv").
	TransactionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgt_transactions_recorded_total",
		Help: "Transactions recorded",
	}, []string{"side", "source"})

	// ReportsGenerated counts report generations by format.
	ReportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgt_reports_generated_total",
		Help: "CGT reports generated",
	}, []string{"format"})

	// HarvestsTotal counts loss harvest state changes by resulting status.
	HarvestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgt_harvests_total",
		Help: "Loss harvests by resulting status",
	}, []string{"status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cgt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cgt_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern, not raw path, to keep holding IDs out of
		// the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
