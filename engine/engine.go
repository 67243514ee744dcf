// Package engine implements the fast deterministic execution engine: a
// per-bar decision loop that is stateless with respect to Strategy
// Specs (loaded/unloaded by ticker) but stateful with respect to bar
// history, open positions, and daily P&L. The on_bar call is a
// non-blocking synchronous hot path: pure local computation kept to an
// "evaluate, gate, decide" shape, with no calls out to an AI service.
package engine

import (
	"fmt"
	"time"

	"hybridtrader/bar"
	"hybridtrader/errs"
	"hybridtrader/indicator"
	"hybridtrader/logging"
	"hybridtrader/spec"
)

// Side is a Position's direction. v1 only ever opens LONG positions (the
// Spec's Signal.Action space is BUY/SELL/HOLD, no short selling).
type Side string

const (
	SideFlat Side = "FLAT"
	SideLong Side = "LONG"
)

// Position is the single open position an engine instance may hold per
// ticker, enforced by the no-pyramiding risk gate.
type Position struct {
	Ticker          string
	Side            Side
	EntryPrice      float64
	Quantity        float64
	EntryTS         time.Time
	StopLossPrice   float64
	TakeProfitPrice float64
}

// TradeDecision is what on_bar emits when a signal fires and passes risk
// gates.
type TradeDecision struct {
	Action       spec.Action
	Ticker       string
	PositionSize float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	Confidence   float64
	Reasoning    string
	SignalID     string
	LatencyNS    int64
	Timestamp    time.Time
}

// tickerState is everything the engine owns per ticker: the loaded Spec,
// the indicator Set, the bounded bar ring, and the open position.
type tickerState struct {
	strategy  *spec.Strategy
	indicator *indicator.Set
	ring      []bar.Bar
	lookback  int
	position  *Position
}

// Engine is one instance of the fast execution engine. It is not safe
// for concurrent use: on_bar must run on a single cooperative thread.
// The Orchestrator's background refresh replaces Specs via Load from its
// own goroutine. Engine has no mutex, and the Orchestrator's
// non-reentrant flag only keeps refresh cycles from overlapping one
// another; nothing serializes Load/Unload against OnBar.
type Engine struct {
	tickers        map[string]*tickerState
	dailyPnL       float64
	dailyPnLBase   float64 // capital basis daily_pnl_fraction is computed against
	maxLatencyMS   float64
}

// New creates an empty engine. dailyPnLBase is the capital basis used to
// turn dailyPnL into daily_pnl_fraction for the risk gate; it is reset
// via ResetDaily at the start of each trading session.
func New(dailyPnLBase float64) *Engine {
	return &Engine{
		tickers:      make(map[string]*tickerState),
		dailyPnLBase: dailyPnLBase,
	}
}

// SetMaxLatencyMS configures the on_bar latency warning threshold; 0
// disables the warning.
func (e *Engine) SetMaxLatencyMS(ms float64) { e.maxLatencyMS = ms }

// Load installs or atomically replaces the Spec for st.Ticker.
// Replacement is a single pointer swap: a bar mid-flight still sees the
// Spec version it started with, since on_bar takes its own reference up
// front.
func (e *Engine) Load(st *spec.Strategy) {
	cfg := indicatorConfig(st.DataRequirements.Indicators)
	e.tickers[st.Ticker] = &tickerState{
		strategy:  st,
		indicator: indicator.NewSet(cfg),
		lookback:  st.DataRequirements.Lookback,
		ring:      make([]bar.Bar, 0, st.DataRequirements.Lookback*2),
	}
}

// Unload removes ticker from the engine, discarding its indicator state
// and ring per the IndicatorState "destroyed when unloaded" invariant.
func (e *Engine) Unload(ticker string) {
	delete(e.tickers, ticker)
}

// ResetDaily zeroes the accumulated daily P&L, called by the Orchestrator
// at session boundaries.
func (e *Engine) ResetDaily(base float64) {
	e.dailyPnL = 0
	e.dailyPnLBase = base
}

// Position returns the open position for ticker, or nil if flat.
func (e *Engine) Position(ticker string) *Position {
	ts, ok := e.tickers[ticker]
	if !ok {
		return nil
	}
	return ts.position
}

// RecordClose is called by whoever closes a position (the backtest
// engine, or live paper execution) so the daily P&L the redline and
// drift gates read stays current.
func (e *Engine) RecordClose(ticker string, pnl float64) {
	e.dailyPnL += pnl
	if ts, ok := e.tickers[ticker]; ok {
		ts.position = nil
	}
}

// OpenPosition records a new open position for ticker after a BUY
// decision has been acted on; the caller (backtest fill model or live
// execution) owns fill price/quantity, the engine just tracks it for the
// no-pyramiding gate.
func (e *Engine) OpenPosition(p Position) {
	if ts, ok := e.tickers[p.Ticker]; ok {
		pp := p
		ts.position = &pp
	}
}

// OnBar is the decision loop: lookup -> append to ring -> enrich ->
// evaluate signals in priority order -> risk gate -> decide. Returns nil
// when no decision is warranted. Panics inside a signal's predicate are
// recovered by Signal.Evaluate. OnBar makes no invariant check of its
// own, and its error result is always nil.
func (e *Engine) OnBar(ticker string, b bar.Bar) (*TradeDecision, error) {
	start := time.Now()
	ts, ok := e.tickers[ticker]
	if !ok {
		return nil, nil
	}
	if ts.strategy.Status(b.Timestamp) != spec.LifecycleCompiled {
		return nil, nil
	}

	ts.ring = appendBounded(ts.ring, b, ts.lookback*2)
	// Every bar feeds the incremental indicators, warm-up bars included,
	// so they are warm once MinDataPoints bars have arrived.
	eb := ts.indicator.Update(b)
	if len(ts.ring) < ts.strategy.DataRequirements.MinDataPoints {
		return nil, nil
	}

	fields := eb.Indicators()
	fields["ticker"] = 0 // ticker is not numeric; identifiers referencing it evaluate to 0, never raise
	fields["price"] = eb.Close
	fields["timestamp"] = float64(b.Timestamp.Unix())

	for i := range ts.strategy.Signals {
		sig := &ts.strategy.Signals[i]
		if sig.Disabled() {
			continue
		}
		hit, err := sig.Evaluate(fields)
		if err != nil {
			logging.Warnf("signal %s on %s: runtime error: %v", sig.ID, ticker, err)
			continue
		}
		if !hit {
			continue
		}

		decision, gateErr := e.applyGates(ts, sig, b, start)
		if gateErr != nil {
			continue
		}
		if decision != nil {
			e.checkLatency(start)
			return decision, nil
		}
	}
	e.checkLatency(start)
	return nil, nil
}

func (e *Engine) checkLatency(start time.Time) {
	if e.maxLatencyMS <= 0 {
		return
	}
	elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0
	if elapsedMS > e.maxLatencyMS {
		logging.Warnf("on_bar latency %.3fms exceeded budget %.3fms", elapsedMS, e.maxLatencyMS)
	}
}

// applyGates applies the risk gates in documented order and, if all pass,
// builds the TradeDecision.
func (e *Engine) applyGates(ts *tickerState, sig *spec.Signal, b bar.Bar, loopStart time.Time) (*TradeDecision, error) {
	risk := ts.strategy.RiskParams

	if sig.Action == spec.ActionHold {
		return e.buildDecision(ts.strategy.Ticker, sig, b, risk, loopStart), nil
	}

	if sig.PositionSize > risk.MaxPositionSize {
		return nil, fmt.Errorf("%w: signal %s size %.4f > max %.4f", errs.ErrPositionSizeExceeded, sig.ID, sig.PositionSize, risk.MaxPositionSize)
	}

	if e.dailyPnLBase != 0 {
		dailyPnLFraction := e.dailyPnL / e.dailyPnLBase
		if dailyPnLFraction < -risk.MaxDailyLoss {
			return nil, fmt.Errorf("%w: daily pnl fraction %.4f below -%.4f", errs.ErrDailyLossLimit, dailyPnLFraction, risk.MaxDailyLoss)
		}
	}

	if sig.Action == spec.ActionBuy && ts.position != nil && ts.position.Side != SideFlat {
		return nil, fmt.Errorf("%w: ticker %s already has an open position", errs.ErrPositionAlreadyOpen, ts.strategy.Ticker)
	}
	if sig.Action == spec.ActionSell && (ts.position == nil || ts.position.Side == SideFlat) {
		// Nothing to sell; not a gate rejection per se, just no-op.
		return nil, nil
	}

	return e.buildDecision(ts.strategy.Ticker, sig, b, risk, loopStart), nil
}

func (e *Engine) buildDecision(ticker string, sig *spec.Signal, b bar.Bar, risk spec.RiskParameters, loopStart time.Time) *TradeDecision {
	return &TradeDecision{
		Action:       sig.Action,
		Ticker:       ticker,
		PositionSize: sig.PositionSize,
		EntryPrice:   b.Close,
		StopLoss:     b.Close * (1 - risk.StopLoss),
		TakeProfit:   b.Close * (1 + risk.TakeProfit),
		Confidence:   sig.Confidence,
		Reasoning:    sig.Reasoning,
		SignalID:     sig.ID,
		LatencyNS:    time.Since(loopStart).Nanoseconds(),
		Timestamp:    b.Timestamp,
	}
}

func appendBounded(ring []bar.Bar, b bar.Bar, max int) []bar.Bar {
	ring = append(ring, b)
	if max > 0 && len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}

// indicatorConfig translates a Spec's requested indicator names into an
// indicator.Config, defaulting Bollinger/MACD/ATR periods to the spec's
// documented defaults (20/2, 12-26-9, 14) when the name is bare.
func indicatorConfig(names []string) indicator.Config {
	cfg := indicator.Config{BollingerK: 2.0}
	for _, name := range names {
		switch {
		case name == "macd":
			cfg.MACD = true
		case name == "bb" || name == "bollinger":
			cfg.BollingerPeriod = 20
		case name == "atr":
			cfg.ATRPeriod = 14
		case name == "rsi":
			cfg.RSIPeriod = 14
		case name == "volume_avg":
			cfg.VolumeAvgPeriod = 20
		case hasPrefix(name, "sma"):
			cfg.SMAPeriods = append(cfg.SMAPeriods, parseSuffix(name, "sma"))
		case hasPrefix(name, "ema"):
			cfg.EMAPeriods = append(cfg.EMAPeriods, parseSuffix(name, "ema"))
		case hasPrefix(name, "rsi"):
			cfg.RSIPeriod = parseSuffix(name, "rsi")
		case hasPrefix(name, "atr"):
			cfg.ATRPeriod = parseSuffix(name, "atr")
		}
	}
	return cfg
}

func hasPrefix(s, prefix string) bool {
	return len(s) > len(prefix) && s[:len(prefix)] == prefix
}

func parseSuffix(s, prefix string) int {
	n := 0
	for _, c := range s[len(prefix):] {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
