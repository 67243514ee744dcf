package backtest

import (
	"testing"
	"time"

	"hybridtrader/bar"
	"hybridtrader/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleBuySellStrategy(t *testing.T) *spec.Strategy {
	t.Helper()
	dataReq := spec.DataRequirements{Indicators: []string{"sma2"}, Lookback: 2, MinDataPoints: 2}
	signals := []spec.Signal{
		{ID: "buy", Condition: "close == 100", Action: spec.ActionBuy, PositionSize: 0.1, Priority: 2},
		{ID: "sell", Condition: "close == 110", Action: spec.ActionSell, PositionSize: 0.1, Priority: 1},
	}
	risk := spec.RiskParameters{MaxPositionSize: 1, StopLoss: 0.5, TakeProfit: 0.5, MaxDailyLoss: 1}
	st, err := spec.New("AAPL", "1day", dataReq, signals, risk, "q", spec.SourceManual, 24*time.Hour)
	require.NoError(t, err)
	return st
}

// TestBacktestLiteralScenario reproduces the documented example: commission
// 0.001, slippage 0.0005, initial_capital 100000, one BUY at 100 then one
// SELL at 110, expecting quantity = floor(10000/100.05) = 99 and
// profit_factor = 0 when there are no losing trades.
func TestBacktestLiteralScenario(t *testing.T) {
	st := singleBuySellStrategy(t)
	// Historical bars, all timestamped before the Spec's 24h expiry.
	ts := time.Now().Add(-72 * time.Hour)
	// MinDataPoints=2 means the first bar only warms up the ring; the BUY
	// signal fires on the second bar (close=100), SELL on the third
	// (close=110), matching the documented one-BUY-one-SELL example.
	bars := []bar.Bar{
		{Ticker: "AAPL", Timestamp: ts, Open: 99, High: 99, Low: 99, Close: 99, Volume: 1000},
		{Ticker: "AAPL", Timestamp: ts.Add(24 * time.Hour), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1000},
		{Ticker: "AAPL", Timestamp: ts.Add(48 * time.Hour), Open: 110, High: 110, Low: 110, Close: 110, Volume: 1000},
	}
	cfg := Config{InitialCapital: 100000, Slippage: 0.0005, CommissionRate: 0.001}
	result := Run(st, bars, cfg)

	require.Len(t, result.Trades, 2)
	assert.Equal(t, spec.ActionBuy, result.Trades[0].Action)
	assert.InDelta(t, 100.05, result.Trades[0].Price, 1e-9)
	assert.InDelta(t, 99.0, result.Trades[0].Quantity, 1e-9)

	assert.Equal(t, 1, result.TotalTrades)
	assert.Equal(t, 100.0, result.WinRatePct)
	assert.Equal(t, 0.0, result.ProfitFactor)
	assert.Equal(t, 1, result.Winning)
	assert.Equal(t, 0, result.Losing)

	// pnl nets both legs' commission: (sellNotional - buyNotional) -
	// buyCommission - sellCommission, not just the sell-side commission.
	assert.InDelta(t, 958.815495, result.Trades[1].Pnl, 1e-6)
	assert.InDelta(t, 958.815495, result.TotalPnl, 1e-6)
}

func TestMaxDrawdownZeroWhenEquityMonotonicallyNonDecreasing(t *testing.T) {
	ts := time.Now()
	curve := []EquityPoint{
		{Timestamp: ts, Equity: 100000},
		{Timestamp: ts.Add(time.Hour), Equity: 100500},
		{Timestamp: ts.Add(2 * time.Hour), Equity: 101000},
	}
	assert.Equal(t, 0.0, maxDrawdown(curve))
}

func TestMaxDrawdownComputesPeakToTroughDecline(t *testing.T) {
	ts := time.Now()
	curve := []EquityPoint{
		{Timestamp: ts, Equity: 100000},
		{Timestamp: ts.Add(time.Hour), Equity: 90000},
		{Timestamp: ts.Add(2 * time.Hour), Equity: 95000},
	}
	assert.InDelta(t, 10.0, maxDrawdown(curve), 1e-9)
}

func TestSharpeRatioZeroWhenFlatCurve(t *testing.T) {
	ts := time.Now()
	curve := []EquityPoint{
		{Timestamp: ts, Equity: 100000},
		{Timestamp: ts.Add(time.Hour), Equity: 100000},
		{Timestamp: ts.Add(2 * time.Hour), Equity: 100000},
	}
	assert.Equal(t, 0.0, sharpeRatio(curve))
}

func TestProfitFactorGuardWithNoLosses(t *testing.T) {
	r := computeResult(nil, nil, 100000, 100000)
	assert.Equal(t, 0.0, r.ProfitFactor)
}

func TestStopLossClosesPositionWhenCloseBreachesStop(t *testing.T) {
	dataReq := spec.DataRequirements{Indicators: []string{"sma2"}, Lookback: 2, MinDataPoints: 2}
	signals := []spec.Signal{
		{ID: "buy", Condition: "close == 100", Action: spec.ActionBuy, PositionSize: 0.1, Priority: 1},
	}
	risk := spec.RiskParameters{MaxPositionSize: 1, StopLoss: 0.05, TakeProfit: 0.05, MaxDailyLoss: 1}
	st, err := spec.New("AAPL", "1day", dataReq, signals, risk, "q", spec.SourceManual, 24*time.Hour)
	require.NoError(t, err)

	// Historical bars, all timestamped before the Spec's 24h expiry.
	ts := time.Now().Add(-72 * time.Hour)
	// MinDataPoints=2 means bar0 only warms up the ring; bar1 fires the
	// BUY at 100 (stop=95, take=105), bar2's close of 90 breaches the stop.
	bars := []bar.Bar{
		{Ticker: "AAPL", Timestamp: ts, Open: 105, High: 105, Low: 105, Close: 105, Volume: 1000},
		{Ticker: "AAPL", Timestamp: ts.Add(24 * time.Hour), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1000},
		{Ticker: "AAPL", Timestamp: ts.Add(48 * time.Hour), Open: 90, High: 90, Low: 90, Close: 90, Volume: 1000},
	}
	cfg := Config{InitialCapital: 100000}
	result := Run(st, bars, cfg)

	require.Len(t, result.Trades, 2)
	assert.Equal(t, ReasonStopLoss, result.Trades[1].Reason)
}
