package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus instruments for the trading pipeline. Each
// process registers its own set on a dedicated registry and exposes it on
// its own port.
type Metrics struct {
	// Data engine
	TicksProcessed  *prometheus.CounterVec
	CandlesEmitted  *prometheus.CounterVec
	SocketConnected *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec

	// Algo worker
	SignalsDetected prometheus.Counter
	EntriesPlaced   prometheus.Counter
	ExitsPlaced     *prometheus.CounterVec
	TradesExpired   *prometheus.CounterVec
	LimitRollbacks  prometheus.Counter
	OrderLatency    prometheus.Histogram

	// Reconciler
	OrderUpdates *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// New creates and registers the full instrument set.
func New() *Metrics {
	m := &Metrics{
		TicksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbreak_ticks_processed_total",
				Help: "Total ticks received from the market data feed",
			},
			[]string{"symbol"},
		),
		CandlesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbreak_candles_emitted_total",
				Help: "Total closed one-minute candles published",
			},
			[]string{"symbol"},
		),
		SocketConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cashbreak_socket_connected",
				Help: "Broker socket connection status (1=connected, 0=disconnected)",
			},
			[]string{"socket"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbreak_socket_reconnects_total",
				Help: "Total broker socket reconnect attempts",
			},
			[]string{"socket"},
		),
		SignalsDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cashbreak_signals_detected_total",
				Help: "Total breakdown setups persisted as PENDING trades",
			},
		),
		EntriesPlaced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cashbreak_entries_placed_total",
				Help: "Total entry orders placed",
			},
		),
		ExitsPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbreak_exits_placed_total",
				Help: "Total exit orders placed by reason",
			},
			[]string{"reason"},
		),
		TradesExpired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbreak_trades_expired_total",
				Help: "Total setups expired at trigger time by limit",
			},
			[]string{"reason"},
		),
		LimitRollbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cashbreak_limit_rollbacks_total",
				Help: "Total counter rollbacks after failed order placements",
			},
		),
		OrderLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cashbreak_order_latency_seconds",
				Help:    "Broker order placement latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		OrderUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbreak_order_updates_total",
				Help: "Total order-socket updates reconciled by broker status",
			},
			[]string{"status"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TicksProcessed, m.CandlesEmitted, m.SocketConnected, m.Reconnects,
		m.SignalsDetected, m.EntriesPlaced, m.ExitsPlaced, m.TradesExpired,
		m.LimitRollbacks, m.OrderLatency, m.OrderUpdates,
	)
	return m
}

// Serve exposes /metrics on the given port in the background.
func (m *Metrics) Serve(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", zap.Int("port", port))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}
