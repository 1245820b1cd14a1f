// Package metrics provides Prometheus instrumentation for the position engine.
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

	"frizo/position_engine/internal/common"
)

var (
	// OperationsTotal counts engine operations by name and outcome code ("ok" or the error code).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "position_engine_operations_total",
		Help: "Engine operations by outcome",
	}, []string{"op", "result"})

	// OperationLatency tracks engine operation latency, store transaction included.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "position_engine_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PositionsOpened counts opened positions by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "position_engine_positions_opened_total",
		Help: "Positions opened",
	}, []string{"side"})

	// PositionsSettled counts terminal transitions by status (closed, liquidated).
	PositionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "position_engine_positions_settled_total",
		Help: "Positions closed or liquidated",
	}, []string{"status"})

	// OpenPositions tracks currently open positions in this process's view.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "position_engine_open_positions",
		Help: "Number of open positions",
	})

	// LiquidationPriceClamps counts liquidation prices floored at zero.
	LiquidationPriceClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "position_engine_liquidation_price_clamps_total",
		Help: "Liquidation prices clamped to zero",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "position_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "position_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "position_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records one engine operation.
func ObserveOperation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if code := common.Code(err); code != 0 {
			result = strconv.Itoa(code)
		}
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

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

		// route pattern keeps position ids out of the label set
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

// Hijack passes through to the underlying writer for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
