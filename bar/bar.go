// Package bar defines the OHLCV time series shape shared by every
// downstream component: the fetcher produces Bars, the indicator engine
// consumes and enriches them, and the condition evaluator reads the
// resulting EnrichedBar fields.
package bar

import (
	"fmt"
	"time"
)

// Bar is a single OHLCV candle for one ticker at one timeframe, the same
// shape a Kline carries (OpenTime/Open/High/Low/Close/Volume) but keyed
// by time.Time rather than epoch millis, since nothing downstream needs
// wire-format timestamps.
type Bar struct {
	Ticker    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// EnrichedBar is a Bar plus the indicator values computed over the window
// ending at this bar. Fields are zero-valued (not omitted) until the ring
// buffer backing the indicator engine has enough history to produce them;
// callers must consult Ready before trusting a field that requires a
// warm-up window longer than the bars seen so far.
type EnrichedBar struct {
	Bar

	SMA          map[int]float64 // period -> value
	EMA          map[int]float64
	RSI          float64
	MACD         float64
	MACDSignal   float64
	MACDHist     float64
	BollingerMid float64
	BollingerUp  float64
	BollingerDn  float64
	ATR          float64
	VolumeAvg    float64
	VolumeRatio  float64 // Volume / VolumeAvg

	// ComputedAt is the wall-clock time the indicator engine produced this
	// EnrichedBar, passed through rather than inferred, so callers that
	// audit staleness don't have to trust Timestamp alone.
	ComputedAt time.Time

	// Ready reports, per indicator name, whether enough history has
	// accumulated to trust the value (e.g. "rsi", "macd", "atr", "bb",
	// "sma14", "ema9"). An indicator absent from Ready or mapped to false
	// has not warmed up yet and its field above still reads zero.
	Ready map[string]bool
}

// Indicators returns a flat name->value view of the enriched fields,
// derived on demand for the condition evaluator, using the field names
// strategy conditions reference directly (RSI, SMA_20, MACD_histogram,
// BB_middle, ...). It is never the primary representation and callers
// that only need one or two values should read the typed fields
// directly instead.
//
// A field whose Ready entry is false (not configured, or not yet warm)
// is omitted rather than exposed at its Go zero value: the condition
// evaluator treats a missing field as undefined, which is what makes a
// condition referencing a cold or unconfigured indicator evaluate to
// false instead of spuriously comparing true against 0.
func (e EnrichedBar) Indicators() map[string]float64 {
	m := map[string]float64{
		"open":   e.Open,
		"high":   e.High,
		"low":    e.Low,
		"close":  e.Close,
		"volume": e.Volume,
	}
	if e.Ready["rsi"] {
		m["RSI"] = e.RSI
	}
	if e.Ready["macd"] {
		m["MACD"] = e.MACD
		m["MACD_signal"] = e.MACDSignal
		m["MACD_histogram"] = e.MACDHist
	}
	if e.Ready["bb"] {
		m["BB_middle"] = e.BollingerMid
		m["BB_upper"] = e.BollingerUp
		m["BB_lower"] = e.BollingerDn
	}
	if e.Ready["atr"] {
		m["ATR"] = e.ATR
	}
	if e.Ready["volume_avg"] {
		m["volume_avg"] = e.VolumeAvg
		m["volume_ratio"] = e.VolumeRatio
	}
	for p, v := range e.SMA {
		if e.Ready[smaReadyKey(p)] {
			m[smaFieldName(p)] = v
		}
	}
	for p, v := range e.EMA {
		if e.Ready[emaReadyKey(p)] {
			m[emaFieldName(p)] = v
		}
	}
	return m
}

func smaReadyKey(period int) string { return fmt.Sprintf("sma%d", period) }
func emaReadyKey(period int) string { return fmt.Sprintf("ema%d", period) }

func smaFieldName(period int) string { return fmt.Sprintf("SMA_%d", period) }
func emaFieldName(period int) string { return fmt.Sprintf("EMA_%d", period) }
