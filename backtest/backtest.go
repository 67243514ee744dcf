// Package backtest replays historical bars through a fresh fast
// execution engine instance with a realistic fill model, producing the
// trade ledger, equity curve, and aggregate metrics the Orchestrator's
// Gate #1 consumes. It never shares engine state with live trading,
// keeping backtests on a dedicated engine instance rather than one shared
// with live trading.
package backtest

import (
	"math"
	"time"

	"hybridtrader/bar"
	"hybridtrader/engine"
	"hybridtrader/spec"
)

// Reason is the closed set of reasons a backtest position can close.
type Reason string

const (
	ReasonStopLoss       Reason = "StopLoss"
	ReasonTakeProfit     Reason = "TakeProfit"
	ReasonSignal         Reason = "Signal"
	ReasonEndOfBacktest  Reason = "EndOfBacktest"
)

// Trade is one ledger entry: an open (BUY) leaves Pnl zero, a close
// (SELL) carries the realized Pnl.
type Trade struct {
	Ticker      string
	Action      spec.Action
	Price       float64
	Quantity    float64
	Timestamp   time.Time
	Pnl         float64
	Commission  float64
	Reason      Reason
}

// EquityPoint is one sample of the equity curve, taken every SampleEvery
// bars.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// Config parameterizes one backtest run.
type Config struct {
	InitialCapital float64
	Slippage       float64
	CommissionRate float64
	SampleEvery    int // default 100
}

// Result is everything a backtest produces.
type Result struct {
	Trades         []Trade
	EquityCurve    []EquityPoint
	FinalCapital   float64
	TotalTrades    int
	Winning        int
	Losing         int
	TotalPnl       float64
	TotalReturnPct float64
	WinRatePct     float64
	AvgWin         float64
	AvgLoss        float64
	ProfitFactor   float64
	MaxDrawdownPct float64
	SharpeRatio    float64
	AvgHoldingTime time.Duration
}

type openLot struct {
	price      float64
	quantity   float64
	commission float64
	entryTS    time.Time
	stop       float64
	take       float64
}

// Run replays bars (time-ordered, all belonging to st.Ticker) through a
// fresh engine loaded with st, applying the fill model in order: a
// decision from the engine first, then stop-loss/take-profit
// maintenance (stop checked before take-profit), then equity sampling.
func Run(st *spec.Strategy, bars []bar.Bar, cfg Config) Result {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 100
	}

	eng := engine.New(cfg.InitialCapital)
	eng.Load(st)

	cash := cfg.InitialCapital
	var lot *openLot
	var trades []Trade
	var curve []EquityPoint

	markToMarket := func(price float64) float64 {
		if lot == nil {
			return cash
		}
		return cash + lot.quantity*price
	}

	closeLot := func(price float64, ts time.Time, reason Reason) {
		if lot == nil {
			return
		}
		notional := lot.quantity * price
		commission := notional * cfg.CommissionRate
		proceeds := notional - commission
		cash += proceeds
		pnl := (notional - lot.quantity*lot.price) - lot.commission - commission
		trades = append(trades, Trade{
			Ticker:     st.Ticker,
			Action:     spec.ActionSell,
			Price:      price,
			Quantity:   lot.quantity,
			Timestamp:  ts,
			Pnl:        pnl,
			Commission: commission,
			Reason:     reason,
		})
		eng.RecordClose(st.Ticker, pnl)
		lot = nil
	}

	for i, b := range bars {
		decision, _ := eng.OnBar(st.Ticker, b)

		if decision != nil && decision.Action == spec.ActionBuy && lot == nil {
			execPrice := b.Close * (1 + cfg.Slippage)
			quantity := math.Floor(cfg.InitialCapital * 0.10 / execPrice)
			notional := quantity * execPrice
			commission := notional * cfg.CommissionRate
			if quantity > 0 && notional+commission <= cash {
				cash -= notional + commission
				lot = &openLot{
					price:      execPrice,
					quantity:   quantity,
					commission: commission,
					entryTS:    b.Timestamp,
					stop:       decision.StopLoss,
					take:       decision.TakeProfit,
				}
				trades = append(trades, Trade{
					Ticker:     st.Ticker,
					Action:     spec.ActionBuy,
					Price:      execPrice,
					Quantity:   quantity,
					Timestamp:  b.Timestamp,
					Commission: commission,
					Reason:     ReasonSignal,
				})
				eng.OpenPosition(engine.Position{
					Ticker:          st.Ticker,
					Side:            engine.SideLong,
					EntryPrice:      execPrice,
					Quantity:        quantity,
					EntryTS:         b.Timestamp,
					StopLossPrice:   decision.StopLoss,
					TakeProfitPrice: decision.TakeProfit,
				})
			}
		} else if decision != nil && decision.Action == spec.ActionSell && lot != nil {
			execPrice := b.Close * (1 - cfg.Slippage)
			closeLot(execPrice, b.Timestamp, ReasonSignal)
		}

		if lot != nil {
			if b.Close <= lot.stop {
				closeLot(lot.stop, b.Timestamp, ReasonStopLoss)
			} else if b.Close >= lot.take {
				closeLot(lot.take, b.Timestamp, ReasonTakeProfit)
			}
		}

		if i%cfg.SampleEvery == 0 || i == len(bars)-1 {
			curve = append(curve, EquityPoint{Timestamp: b.Timestamp, Equity: markToMarket(b.Close)})
		}
	}

	if lot != nil && len(bars) > 0 {
		last := bars[len(bars)-1]
		closeLot(last.Close, last.Timestamp, ReasonEndOfBacktest)
		curve = append(curve, EquityPoint{Timestamp: last.Timestamp, Equity: cash})
	}

	return computeResult(trades, curve, cfg.InitialCapital, cash)
}

func computeResult(trades []Trade, curve []EquityPoint, initialCapital, finalCapital float64) Result {
	r := Result{
		Trades:       trades,
		EquityCurve:  curve,
		FinalCapital: finalCapital,
	}

	var totalWin, totalLoss float64
	var holdSum time.Duration
	var holdCount int
	var buyQueue []Trade

	for _, t := range trades {
		switch t.Action {
		case spec.ActionBuy:
			buyQueue = append(buyQueue, t)
		case spec.ActionSell:
			r.TotalTrades++
			r.TotalPnl += t.Pnl
			if t.Pnl > 0 {
				r.Winning++
				totalWin += t.Pnl
			} else if t.Pnl < 0 {
				r.Losing++
				totalLoss += -t.Pnl
			}
			if len(buyQueue) > 0 {
				paired := buyQueue[0]
				buyQueue = buyQueue[1:]
				holdSum += t.Timestamp.Sub(paired.Timestamp)
				holdCount++
			}
		}
	}

	if initialCapital != 0 {
		r.TotalReturnPct = (finalCapital/initialCapital - 1) * 100
	}
	if r.TotalTrades > 0 {
		r.WinRatePct = float64(r.Winning) / float64(r.TotalTrades) * 100
	}
	if r.Winning > 0 {
		r.AvgWin = totalWin / float64(r.Winning)
	}
	if r.Losing > 0 {
		r.AvgLoss = totalLoss / float64(r.Losing)
	}
	if r.AvgLoss != 0 {
		r.ProfitFactor = r.AvgWin / r.AvgLoss
	}
	if holdCount > 0 {
		r.AvgHoldingTime = holdSum / time.Duration(holdCount)
	}

	r.MaxDrawdownPct = maxDrawdown(curve)
	r.SharpeRatio = sharpeRatio(curve)

	return r
}

func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (mean / stddev) * math.Sqrt(252)
}
