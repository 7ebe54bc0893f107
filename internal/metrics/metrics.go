// Package metrics provides Prometheus instrumentation for the market engine.
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
	// RunsTotal counts completed simulation runs by exchange.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_runs_total",
		Help: "Total number of completed simulation runs",
	}, []string{"exchange"})

	// ActiveRuns tracks runs currently executing.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lem_active_runs",
		Help: "Number of simulation runs in progress",
	})

	// TradesTotal counts trades committed to a ledger.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_trades_total",
		Help: "Total number of trades committed",
	}, []string{"exchange"})

	// EnergyTraded is the cumulative energy that changed hands, in kWh.
	EnergyTraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_energy_traded_kwh_total",
		Help: "Cumulative traded energy in kWh",
	}, []string{"exchange"})

	// MoneyTraded is the cumulative value of all trades.
	MoneyTraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_money_traded_total",
		Help: "Cumulative traded value",
	}, []string{"exchange"})

	// RejectionsTotal counts orders refused by a market rule.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_rejections_total",
		Help: "Orders rejected by a market rule",
	}, []string{"exchange", "reason"})

	// IntervalClearDuration tracks wall time to clear one interval.
	IntervalClearDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lem_interval_clear_seconds",
		Help:    "Time to clear one market interval",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"exchange"})

	// PoolReserve is the last observed AMM reserve per token.
	PoolReserve = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lem_pool_reserve",
		Help: "Last observed AMM pool reserve",
	}, []string{"token"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lem_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lem_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
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

		// Route pattern keeps run ids out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
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
