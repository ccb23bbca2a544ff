// Package metrics provides Prometheus instrumentation for the trading
// engine.
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
	// TradesTotal counts total trades executed, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpmm_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency is a histogram of trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpmm_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeVolume tracks cumulative cash traded per market.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpmm_trade_volume_total",
		Help: "Cumulative trade volume in cash units",
	}, []string{"market", "side"})

	// ResolutionsTotal counts market resolutions.
	ResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpmm_resolutions_total",
		Help: "Total number of markets resolved",
	})

	// RedemptionsTotal counts winning-share redemptions.
	RedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpmm_redemptions_total",
		Help: "Total number of positions redeemed",
	})

	// LimitRejections counts trades rejected by the risk limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpmm_limit_rejections_total",
		Help: "Trades rejected by the exposure limiter",
	})

	// ActiveMarkets tracks the number of unresolved markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpmm_active_markets",
		Help: "Number of currently unresolved markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpmm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpmm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpmm_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
