// Package orchestrator implements the hybrid orchestrator: the
// RESEARCH/TRADING/PAUSED mode state machine, its three gates
// (start-trading, drift, redline), and the background cooperative
// strategy-refresh loop. The refresh loop's shape, a ticker with a
// select over the ticker channel and a stop channel guarded by a
// non-reentrant flag, generalizes a fixed-interval drawdown-monitor
// loop into a configurable Spec-refresh interval driven by an external
// Spec Producer instead of an internal exchange client.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hybridtrader/backtest"
	"hybridtrader/bar"
	"hybridtrader/diagnostics"
	"hybridtrader/engine"
	"hybridtrader/obsmetrics"
	"hybridtrader/spec"
)

// escalationRanges is the Yahoo-style range escalation ladder: try
// progressively longer history until enough bars accumulate to satisfy
// a Spec's min_data_points.
var escalationRanges = []string{"3mo", "6mo", "1y", "2y"}

// RangeFetcher fetches bars for ticker/timeframe over a Yahoo-style range
// string ("3mo", "1y", ...), implemented by the fetch package.
type RangeFetcher func(ctx context.Context, ticker, timeframe, yahooRange string) ([]bar.Bar, error)

// RunBacktestWithEscalation fetches history for st, escalating through
// escalationRanges until len(bars) >= min_data_points or the ladder is
// exhausted, then runs the backtest and feeds Gate #1.
func (o *Orchestrator) RunBacktestWithEscalation(ctx context.Context, st *spec.Strategy, fetch RangeFetcher, cfg backtest.Config) (backtest.Result, error) {
	var bars []bar.Bar
	var err error
	for _, r := range escalationRanges {
		bars, err = fetch(ctx, st.Ticker, st.Timeframe, r)
		if err != nil {
			o.bus.Publish(LevelWarn, KindSystem, st.Ticker, fmt.Sprintf("history fetch (%s) failed: %v", r, err))
			continue
		}
		if len(bars) >= st.DataRequirements.MinDataPoints {
			break
		}
	}
	if len(bars) < st.DataRequirements.MinDataPoints {
		return backtest.Result{}, fmt.Errorf("insufficient history for %s after exhausting range escalation: have %d, need %d", st.Ticker, len(bars), st.DataRequirements.MinDataPoints)
	}

	result := backtest.Run(st, bars, cfg)
	o.EvaluateGate1(st, len(bars), result)
	return result, nil
}

// Mode is the orchestrator's state.
type Mode string

const (
	ModeResearch Mode = "RESEARCH"
	ModeTrading  Mode = "TRADING"
	ModePaused   Mode = "PAUSED"
)

// GateConfig carries the thresholds for all three gates.
type GateConfig struct {
	G1MinTrades     int     // Gate #1: minimum backtest trades to consider trading
	G1MaxDDPct      float64 // Gate #1: maximum acceptable backtest drawdown percentage
	G1MinReturnPct  float64 // Gate #1: minimum acceptable backtest return percentage
	G2MaxConsecLoss int     // Gate #2: consecutive losing trades before reverting to RESEARCH
}

// DefaultGateConfig returns the conventional gate thresholds: a minimum
// of 3 backtest trades, 20% maximum drawdown, -5% minimum return to
// pass Gate #1, and 3 consecutive losses to trip Gate #2.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		G1MinTrades:     3,
		G1MaxDDPct:      20,
		G1MinReturnPct:  -5,
		G2MaxConsecLoss: 3,
	}
}

// SpecProducer is anything that can turn a query (or a bare ticker, for
// the refresh loop) into a compiled Strategy. The LLM planner, a human
// posting JSON through the API, and a backtest-replay producer all
// satisfy this the same way.
type SpecProducer interface {
	CompileStrategy(ctx context.Context, query string) (*spec.Strategy, error)
}

// tickerSession is per-ticker orchestrator state.
type tickerSession struct {
	mu                sync.Mutex
	mode              Mode
	consecutiveLosses int
	dailyPnLFraction  float64
	pausedAt          time.Time
}

// Orchestrator owns the mode machine, the live engine, the event bus,
// and the background refresh loop. It is an explicit context object
// rather than ambient global state, so tests can run many isolated
// instances in parallel.
type Orchestrator struct {
	gates    GateConfig
	eng      *engine.Engine
	bus      *EventBus
	producer SpecProducer

	mu         sync.Mutex
	watchlist  map[string]bool
	sessions   map[string]*tickerSession

	refreshing int32 // atomic non-reentrant guard
	stopCh     chan struct{}
	wg         sync.WaitGroup

	riskLookup func(ticker string) *spec.RiskParameters
}

// New creates an Orchestrator wired to eng (the shared fast execution
// engine instance) and producer (the Spec Producer used by the refresh
// loop).
func New(eng *engine.Engine, producer SpecProducer, gates GateConfig) *Orchestrator {
	return &Orchestrator{
		gates:     gates,
		eng:       eng,
		bus:       NewEventBus(),
		producer:  producer,
		watchlist: make(map[string]bool),
		sessions:  make(map[string]*tickerSession),
	}
}

// Events returns the orchestrator's event bus for subscription/polling.
func (o *Orchestrator) Events() *EventBus { return o.bus }

// Watch adds ticker to the watchlist the refresh loop iterates.
func (o *Orchestrator) Watch(ticker string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watchlist[ticker] = true
	if _, ok := o.sessions[ticker]; !ok {
		o.sessions[ticker] = &tickerSession{mode: ModeResearch}
	}
}

// Unwatch removes ticker from the watchlist and unloads its Spec.
func (o *Orchestrator) Unwatch(ticker string) {
	o.mu.Lock()
	delete(o.watchlist, ticker)
	delete(o.sessions, ticker)
	o.mu.Unlock()
	o.eng.Unload(ticker)
}

// Mode returns ticker's current mode, or ModeResearch if unknown.
func (o *Orchestrator) Mode(ticker string) Mode {
	s := o.session(ticker)
	if s == nil {
		return ModeResearch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (o *Orchestrator) session(ticker string) *tickerSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[ticker]
}

func (o *Orchestrator) setMode(ticker string, m Mode) {
	s := o.session(ticker)
	if s == nil {
		return
	}
	s.mu.Lock()
	changed := s.mode != m
	s.mode = m
	if m == ModePaused {
		s.pausedAt = time.Now()
	}
	s.mu.Unlock()
	if changed {
		obsmetrics.SetMode(ticker, string(m))
		o.bus.Publish(LevelInfo, KindMode, ticker, fmt.Sprintf("mode -> %s", m))
	}
}

// EvaluateGate1 runs the start-trading gate against a backtest result. On
// pass, ticker transitions RESEARCH -> TRADING; on fail, it stays in
// RESEARCH, a warn event is emitted, and a diagnosis is attached when
// the backtest produced zero trades.
func (o *Orchestrator) EvaluateGate1(st *spec.Strategy, barsCount int, result backtest.Result) bool {
	ticker := st.Ticker
	pass := result.TotalTrades >= o.gates.G1MinTrades &&
		result.MaxDrawdownPct <= o.gates.G1MaxDDPct &&
		result.TotalReturnPct >= o.gates.G1MinReturnPct

	obsmetrics.BacktestTotalReturn.WithLabelValues(ticker).Set(result.TotalReturnPct)
	obsmetrics.BacktestMaxDrawdown.WithLabelValues(ticker).Set(result.MaxDrawdownPct)

	outcome := "fail"
	if pass {
		outcome = "pass"
	}
	obsmetrics.GateOutcomes.WithLabelValues(ticker, "gate1_start_trading", outcome).Inc()

	if pass {
		o.setMode(ticker, ModeTrading)
		o.bus.Publish(LevelOK, KindGate, ticker, "gate1 passed, transitioning to TRADING")
		return true
	}

	o.bus.Publish(LevelWarn, KindGate, ticker, fmt.Sprintf(
		"gate1 failed: trades=%d (need>=%d) dd=%.2f%% (need<=%.2f%%) return=%.2f%% (need>=%.2f%%)",
		result.TotalTrades, o.gates.G1MinTrades, result.MaxDrawdownPct, o.gates.G1MaxDDPct,
		result.TotalReturnPct, o.gates.G1MinReturnPct))

	if diag := diagnostics.Diagnose(st, barsCount, result); diag != nil {
		o.bus.Publish(LevelInfo, KindSystem, ticker, fmt.Sprintf("diagnosis: %s", diag.Reason))
	}
	return false
}

// RecordTradeOutcome is called by live paper execution after each closing
// trade; it drives Gate #2 (drift) and Gate #3 (redline).
func (o *Orchestrator) RecordTradeOutcome(ticker string, pnl float64, dailyPnLFraction float64) {
	s := o.session(ticker)
	if s == nil {
		return
	}
	s.mu.Lock()
	if pnl < 0 {
		s.consecutiveLosses++
	} else {
		s.consecutiveLosses = 0
	}
	s.dailyPnLFraction = dailyPnLFraction
	mode := s.mode
	losses := s.consecutiveLosses
	s.mu.Unlock()

	obsmetrics.ConsecutiveLosses.WithLabelValues(ticker).Set(float64(losses))
	obsmetrics.DailyPnLFraction.WithLabelValues(ticker).Set(dailyPnLFraction)

	if mode != ModeTrading {
		return
	}

	if losses >= o.gates.G2MaxConsecLoss {
		o.setMode(ticker, ModeResearch)
		obsmetrics.GateOutcomes.WithLabelValues(ticker, "gate2_drift", "fail").Inc()
		o.bus.Publish(LevelWarn, KindDrift, ticker, fmt.Sprintf("%d consecutive losses, reverting to RESEARCH", losses))
		s.mu.Lock()
		s.consecutiveLosses = 0
		s.mu.Unlock()
		return
	}

	st := o.strategyRiskParams(ticker)
	if st != nil && dailyPnLFraction <= -st.MaxDailyLoss {
		o.setMode(ticker, ModePaused)
		obsmetrics.GateOutcomes.WithLabelValues(ticker, "gate3_redline", "fail").Inc()
		o.bus.Publish(LevelError, KindRedline, ticker, fmt.Sprintf("daily pnl fraction %.4f breached redline, PAUSED", dailyPnLFraction))
	}
}

func (o *Orchestrator) strategyRiskParams(ticker string) *spec.RiskParameters {
	if o.riskLookup == nil {
		return nil
	}
	return o.riskLookup(ticker)
}

// SetRiskParamsLookup wires a function the orchestrator calls to find the
// currently loaded Spec's risk parameters for ticker, used by the
// redline gate. The engine itself does not expose loaded Specs, so the
// caller (cmd/hybridtrader's wiring) supplies this closure over whatever
// Spec store it holds.
func (o *Orchestrator) SetRiskParamsLookup(fn func(ticker string) *spec.RiskParameters) {
	o.riskLookup = fn
}

// Resume transitions ticker out of PAUSED back to RESEARCH; PAUSED is
// otherwise terminal for the session until an operator calls this.
func (o *Orchestrator) Resume(ticker string) error {
	s := o.session(ticker)
	if s == nil {
		return fmt.Errorf("orchestrator: unknown ticker %q", ticker)
	}
	s.mu.Lock()
	if s.mode != ModePaused {
		s.mu.Unlock()
		return fmt.Errorf("orchestrator: ticker %q is not paused", ticker)
	}
	s.mu.Unlock()
	o.setMode(ticker, ModeResearch)
	o.bus.Publish(LevelInfo, KindMode, ticker, "resumed from PAUSED")
	return nil
}

// StartRefreshLoop launches the background cooperative refresh task: a
// time.Ticker firing every interval, selecting against its channel and a
// stop channel, exactly as trader/auto_trader.go's startDrawdownMonitor
// does. A non-reentrant atomic guard skips a tick if the previous cycle
// is still running.
func (o *Orchestrator) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	o.stopCh = make(chan struct{})
	ticker := time.NewTicker(interval)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.refreshCycle(ctx)
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopRefreshLoop cancels the background task and waits for it to exit.
func (o *Orchestrator) StopRefreshLoop() {
	if o.stopCh == nil {
		return
	}
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) refreshCycle(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&o.refreshing, 0, 1) {
		return // previous cycle still in flight
	}
	defer atomic.StoreInt32(&o.refreshing, 0)

	o.mu.Lock()
	tickers := make([]string, 0, len(o.watchlist))
	for t := range o.watchlist {
		tickers = append(tickers, t)
	}
	o.mu.Unlock()

	outcome := "ok"
	for _, ticker := range tickers {
		st, err := o.producer.CompileStrategy(ctx, ticker)
		if err != nil {
			outcome = "error"
			o.bus.Publish(LevelError, KindSystem, ticker, fmt.Sprintf("refresh failed: %v", err))
			continue
		}
		o.eng.Load(st)
		o.bus.Publish(LevelInfo, KindSystem, ticker, "spec refreshed")
	}
	obsmetrics.RefreshCycles.WithLabelValues(outcome).Inc()
}
