// Package obsmetrics provides a dedicated prometheus.Registry plus
// promauto vecs, re-themed from per-trader exchange PnL onto the
// orchestrator's mode, gate outcomes, decision latency, and backtest
// results.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the dedicated prometheus registry for this system, kept
// separate from the default global registry so its metrics never mix
// with another package's.
var Registry = prometheus.NewRegistry()

var (
	// OrchestratorMode is a one-hot gauge per mode (1 for the active
	// mode, 0 otherwise), set by the orchestrator on every transition.
	OrchestratorMode = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hybridtrader",
			Subsystem: "orchestrator",
			Name:      "mode",
			Help:      "One-hot indicator of the orchestrator's current mode",
		},
		[]string{"ticker", "mode"},
	)

	// GateOutcomes counts pass/fail per gate per ticker.
	GateOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridtrader",
			Subsystem: "orchestrator",
			Name:      "gate_outcomes_total",
			Help:      "Count of gate evaluations by gate name and outcome",
		},
		[]string{"ticker", "gate", "outcome"},
	)

	// DecisionLatency observes on_bar latency in seconds, against a
	// sub-millisecond p99 target.
	DecisionLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybridtrader",
			Subsystem: "engine",
			Name:      "decision_latency_seconds",
			Help:      "on_bar latency from entry to decision emit",
			Buckets:   []float64{0.00005, 0.0001, 0.0002, 0.0005, 0.001, 0.002, 0.005, 0.01},
		},
		[]string{"ticker"},
	)

	// DecisionsTotal counts emitted decisions by action.
	DecisionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridtrader",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Count of trade decisions emitted by action",
		},
		[]string{"ticker", "action"},
	)

	// BacktestTotalReturn records the most recent backtest's return pct
	// per ticker.
	BacktestTotalReturn = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hybridtrader",
			Subsystem: "backtest",
			Name:      "total_return_pct",
			Help:      "Most recent backtest total return percentage",
		},
		[]string{"ticker"},
	)

	// BacktestMaxDrawdown records the most recent backtest's max
	// drawdown percentage per ticker.
	BacktestMaxDrawdown = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hybridtrader",
			Subsystem: "backtest",
			Name:      "max_drawdown_pct",
			Help:      "Most recent backtest max drawdown percentage",
		},
		[]string{"ticker"},
	)

	// ConsecutiveLosses tracks the live drift gate's counter per ticker.
	ConsecutiveLosses = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hybridtrader",
			Subsystem: "orchestrator",
			Name:      "consecutive_losses",
			Help:      "Current consecutive losing trades for the drift gate",
		},
		[]string{"ticker"},
	)

	// DailyPnLFraction tracks the redline gate's input per ticker.
	DailyPnLFraction = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hybridtrader",
			Subsystem: "orchestrator",
			Name:      "daily_pnl_fraction",
			Help:      "Cumulative session P&L as a fraction of capital",
		},
		[]string{"ticker"},
	)

	// RefreshCycles counts strategy refresh loop runs.
	RefreshCycles = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridtrader",
			Subsystem: "orchestrator",
			Name:      "refresh_cycles_total",
			Help:      "Count of background strategy refresh cycles by outcome",
		},
		[]string{"outcome"},
	)
)

var allModes = []string{"RESEARCH", "TRADING", "PAUSED"}

// SetMode flips the one-hot OrchestratorMode gauge for ticker so exactly
// one mode reads 1.
func SetMode(ticker, mode string) {
	for _, m := range allModes {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		OrchestratorMode.WithLabelValues(ticker, m).Set(v)
	}
}
