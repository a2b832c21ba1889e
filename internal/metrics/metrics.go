// Package metrics provides Prometheus instrumentation for the perp engine.
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
	// PositionOpsTotal counts committed position operations by kind
	// (increase, decrease, force_close, deleverage) and market.
	PositionOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_position_ops_total",
		Help: "Committed position operations",
	}, []string{"op", "market"})

	// OpLatency tracks engine operation latency, lock wait included.
	OpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perp_op_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Rejections counts operations rejected before commit, by reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_rejections_total",
		Help: "Operations rejected by precondition or solvency checks",
	}, []string{"op", "reason"})

	// LiquidationsTotal counts liquidated sub-accounts.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perp_liquidations_total",
		Help: "Sub-accounts liquidated",
	})

	// BadDebtRecorded counts bad debt added to sub-accounts, in USD.
	BadDebtRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_bad_debt_usd_total",
		Help: "Bad debt recorded against sub-accounts in USD",
	}, []string{"source"})

	// HookFailures counts trade hooks that returned an error or panicked.
	HookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_hook_failures_total",
		Help: "Trade hook failures",
	}, []string{"hook"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perp_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Since observes the time elapsed since start under op.
func Since(op string, start time.Time) {
	OpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The route pattern keeps label cardinality bounded.
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
