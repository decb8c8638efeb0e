package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the trading pipeline
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	SignalsFound      prometheus.Counter
	TradesExecuted    *prometheus.CounterVec
	BrokerCalls       *prometheus.CounterVec
	BrokerLatency     *prometheus.HistogramVec
	WatchlistTriggers prometheus.Counter
	AutoExits         *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// GetMetrics returns the process-wide metrics singleton. promauto
// registration must happen exactly once per process.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quantpilot_trading_cycles_total",
				Help: "Trading cycles by terminal status",
			}, []string{"status"}),
			CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "quantpilot_trading_cycle_duration_seconds",
				Help:    "End-to-end trading cycle duration",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			}),
			SignalsFound: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quantpilot_signals_found_total",
				Help: "Signals surviving the confidence filter",
			}),
			TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quantpilot_trades_executed_total",
				Help: "Trades submitted to the broker by action",
			}, []string{"action"}),
			BrokerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quantpilot_broker_calls_total",
				Help: "Outbound API calls by provider, endpoint and outcome",
			}, []string{"api", "call_type", "outcome"}),
			BrokerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "quantpilot_broker_call_latency_seconds",
				Help:    "Outbound API call latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"api", "call_type"}),
			WatchlistTriggers: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quantpilot_watchlist_triggers_total",
				Help: "Watchlist items that fired",
			}),
			AutoExits: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quantpilot_auto_exits_total",
				Help: "Positions closed by the monitor",
			}, []string{"reason"}),
		}
	})
	return metrics
}
