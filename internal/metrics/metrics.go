// Package metrics provides Prometheus instrumentation for the pricing engine.
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
	// FormulaEvaluations counts formula evaluations, partitioned by outcome
	// (ok, missing_price, parse_error).
	FormulaEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_formula_evaluations_total",
		Help: "Total number of formula evaluations",
	}, []string{"outcome"})

	// PriceResolutions counts price resolutions by mode
	// (historical, forward, forward_fallback, unavailable).
	PriceResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_price_resolutions_total",
		Help: "Total price resolutions by mode",
	}, []string{"mode"})

	// PriceLookupLatency tracks collaborator lookup latency by operation.
	PriceLookupLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_price_lookup_latency_seconds",
		Help:    "Price store lookup latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// ExposureCalculations counts exposure calculations by leg kind
	// (standard, efp, paper).
	ExposureCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_exposure_calculations_total",
		Help: "Total exposure calculations",
	}, []string{"kind"})

	// ExposureLimitBreaches counts limit breaches found in exposure books.
	ExposureLimitBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_exposure_limit_breaches_total",
		Help: "Exposure limit breaches by limit kind",
	}, []string{"limit"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricing_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveLookup records the latency of a price store call started at start.
func ObserveLookup(op string, start time.Time) {
	PriceLookupLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

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

		// Use the route pattern for path label to avoid high cardinality
		// (/api/v1/periods/{code}).
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
