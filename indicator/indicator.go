// Package indicator computes technical indicators incrementally: each new
// bar updates running state in O(1) rather than rescanning the whole
// window the way a one-off calculateEMA/calculateRSI/calculateATR call
// would (fine for one-off calls, not for a fast path that enriches every
// bar). The recurrences themselves (EMA multiplier, Wilder smoothing,
// MACD = EMA12-EMA26) are the standard ones; only the storage shape
// changes.
package indicator

import (
	"math"
	"strconv"
	"time"

	"hybridtrader/bar"
)

// Set holds one ticker's incremental indicator state across bars. It is
// not safe for concurrent use; the engine owns one Set per ticker and
// drives it from a single goroutine, matching the fast path's
// single-threaded on_bar contract.
type Set struct {
	smaPeriods []int
	emaPeriods []int

	sma map[int]*smaState
	ema map[int]*emaState

	rsiPeriod int
	rsi       *rsiState

	macdFast, macdSlow, macdSignalPeriod int
	macdFastEMA, macdSlowEMA             *emaState
	macdSignalEMA                        *emaState
	haveMACD                             bool

	bbPeriod int
	bbK      float64
	bb       *smaState // reuses SMA's running sum/window for mean and variance

	atrPeriod int
	atr       *atrState

	volPeriod int
	vol       *smaState

	count int
}

// Config describes which indicators a Set should track, driven by a
// Strategy Spec's DataRequirements.
type Config struct {
	SMAPeriods       []int
	EMAPeriods       []int
	RSIPeriod        int // 0 disables
	MACD             bool
	MACDFast         int // default 12
	MACDSlow         int // default 26
	MACDSignal       int // default 9
	BollingerPeriod  int // 0 disables
	BollingerK       float64
	ATRPeriod        int // 0 disables
	VolumeAvgPeriod  int // 0 disables
}

// NewSet builds empty indicator state for one ticker, ready to be fed
// bars via Update.
func NewSet(cfg Config) *Set {
	s := &Set{
		smaPeriods: cfg.SMAPeriods,
		emaPeriods: cfg.EMAPeriods,
		rsiPeriod:  cfg.RSIPeriod,
		sma:        make(map[int]*smaState),
		ema:        make(map[int]*emaState),
	}
	for _, p := range cfg.SMAPeriods {
		s.sma[p] = newSMAState(p)
	}
	for _, p := range cfg.EMAPeriods {
		s.ema[p] = newEMAState(p)
	}
	if cfg.RSIPeriod > 0 {
		s.rsi = newRSIState(cfg.RSIPeriod)
	}
	if cfg.MACD {
		fast, slow, sig := cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal
		if fast == 0 {
			fast = 12
		}
		if slow == 0 {
			slow = 26
		}
		if sig == 0 {
			sig = 9
		}
		s.macdFast, s.macdSlow, s.macdSignalPeriod = fast, slow, sig
		s.macdFastEMA = newEMAState(fast)
		s.macdSlowEMA = newEMAState(slow)
		s.macdSignalEMA = newEMAState(sig)
		s.haveMACD = true
	}
	if cfg.BollingerPeriod > 0 {
		s.bbPeriod = cfg.BollingerPeriod
		s.bbK = cfg.BollingerK
		if s.bbK == 0 {
			s.bbK = 2.0
		}
		s.bb = newSMAState(cfg.BollingerPeriod)
	}
	if cfg.ATRPeriod > 0 {
		s.atrPeriod = cfg.ATRPeriod
		s.atr = newATRState(cfg.ATRPeriod)
	}
	if cfg.VolumeAvgPeriod > 0 {
		s.volPeriod = cfg.VolumeAvgPeriod
		s.vol = newSMAState(cfg.VolumeAvgPeriod)
	}
	return s
}

// Update feeds one new Bar into every tracked indicator and returns the
// resulting EnrichedBar. SMA, the volume average and ATR keep a running
// sum over a fixed ring and EMA/RSI keep a scalar updated by its
// recurrence, each O(1) per bar; the Bollinger standard deviation
// rescans its period-length window. Incremental updates match a full
// recompute over the same window.
func (s *Set) Update(b bar.Bar) bar.EnrichedBar {
	s.count++
	eb := bar.EnrichedBar{
		Bar:        b,
		SMA:        make(map[int]float64, len(s.smaPeriods)),
		EMA:        make(map[int]float64, len(s.emaPeriods)),
		Ready:      make(map[string]bool),
		ComputedAt: time.Now(),
	}

	for _, p := range s.smaPeriods {
		st := s.sma[p]
		st.push(b.Close)
		eb.SMA[p] = st.mean()
		eb.Ready[smaKey(p)] = st.warm()
	}

	for _, p := range s.emaPeriods {
		st := s.ema[p]
		v, ready := st.update(b.Close)
		eb.EMA[p] = v
		eb.Ready[emaKey(p)] = ready
	}

	if s.rsi != nil {
		eb.RSI, eb.Ready["rsi"] = s.rsi.update(b.Close)
	}

	if s.haveMACD {
		fast, fastReady := s.macdFastEMA.update(b.Close)
		slow, slowReady := s.macdSlowEMA.update(b.Close)
		macd := fast - slow
		eb.MACD = macd
		macdReady := fastReady && slowReady
		if macdReady {
			signal, sigReady := s.macdSignalEMA.update(macd)
			eb.MACDSignal = signal
			eb.MACDHist = macd - signal
			eb.Ready["macd"] = sigReady
		}
	}

	if s.bb != nil {
		s.bb.push(b.Close)
		mean := s.bb.mean()
		sd := s.bb.stddev(mean)
		eb.BollingerMid = mean
		eb.BollingerUp = mean + s.bbK*sd
		eb.BollingerDn = mean - s.bbK*sd
		eb.Ready["bb"] = s.bb.warm()
	}

	if s.atr != nil {
		eb.ATR, eb.Ready["atr"] = s.atr.update(b.High, b.Low, b.Close)
	}

	if s.vol != nil {
		s.vol.push(b.Volume)
		eb.VolumeAvg = s.vol.mean()
		eb.Ready["volume_avg"] = s.vol.warm()
		if eb.VolumeAvg > 0 {
			eb.VolumeRatio = b.Volume / eb.VolumeAvg
		}
	}

	return eb
}

func smaKey(p int) string { return "sma" + strconv.Itoa(p) }
func emaKey(p int) string { return "ema" + strconv.Itoa(p) }

// smaState is a fixed-window running-sum accumulator used for SMA, the
// Bollinger mean/stddev, and the volume average: all three need "mean
// of last N values," so they share one accumulator type, each instance
// with its own window.
type smaState struct {
	period int
	window []float64
	idx    int
	filled int
	sum    float64
}

func newSMAState(period int) *smaState {
	return &smaState{period: period, window: make([]float64, period)}
}

func (s *smaState) push(v float64) {
	old := s.window[s.idx]
	s.sum += v - old
	s.window[s.idx] = v
	s.idx = (s.idx + 1) % s.period
	if s.filled < s.period {
		s.filled++
	}
}

func (s *smaState) warm() bool { return s.filled >= s.period }

func (s *smaState) mean() float64 {
	if s.filled == 0 {
		return 0
	}
	return s.sum / float64(s.filled)
}

func (s *smaState) stddev(mean float64) float64 {
	if s.filled == 0 {
		return 0
	}
	var acc float64
	for i := 0; i < s.filled; i++ {
		d := s.window[i] - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(s.filled))
}

// emaState tracks exponential moving average state: it seeds via the
// plain average of the first `period` closes (matching calculateEMA's
// "calculate SMA as initial EMA" step) then applies the multiplier
// recurrence for every bar after.
type emaState struct {
	period     int
	multiplier float64
	seedSum    float64
	seedCount  int
	value      float64
	seeded     bool
}

func newEMAState(period int) *emaState {
	return &emaState{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *emaState) update(price float64) (float64, bool) {
	if !e.seeded {
		e.seedSum += price
		e.seedCount++
		if e.seedCount == e.period {
			e.value = e.seedSum / float64(e.period)
			e.seeded = true
			return e.value, true
		}
		return 0, false
	}
	e.value = (price-e.value)*e.multiplier + e.value
	return e.value, true
}

// rsiState implements Wilder-smoothed RSI: an initial average gain/loss
// over the first `period` changes, then the (avg*(p-1)+x)/p continuation.
type rsiState struct {
	period      int
	prevClose   float64
	havePrev    bool
	seedGain    float64
	seedLoss    float64
	seedCount   int
	avgGain     float64
	avgLoss     float64
	seeded      bool
}

func newRSIState(period int) *rsiState {
	return &rsiState{period: period}
}

func (r *rsiState) update(close float64) (float64, bool) {
	if !r.havePrev {
		r.prevClose = close
		r.havePrev = true
		return 0, false
	}
	change := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if !r.seeded {
		r.seedGain += gain
		r.seedLoss += loss
		r.seedCount++
		if r.seedCount == r.period {
			r.avgGain = r.seedGain / float64(r.period)
			r.avgLoss = r.seedLoss / float64(r.period)
			r.seeded = true
			return rsiFromAverages(r.avgGain, r.avgLoss), true
		}
		return 0, false
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	return rsiFromAverages(r.avgGain, r.avgLoss), true
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// atrState computes the average true range as a plain arithmetic mean
// of the trailing `period` true ranges (a deliberate deviation from the
// teacher's Wilder-smoothed continuation, see DESIGN.md), kept
// incremental via a ring rather than rescanning the bar history.
type atrState struct {
	period    int
	prevClose float64
	havePrev  bool
	ring      []float64
	idx       int
	filled    int
	sum       float64
}

func newATRState(period int) *atrState {
	return &atrState{period: period, ring: make([]float64, period)}
}

func (a *atrState) update(high, low, close float64) (float64, bool) {
	if !a.havePrev {
		a.prevClose = close
		a.havePrev = true
		return 0, false
	}
	tr := trueRange(high, low, a.prevClose)
	a.prevClose = close

	old := a.ring[a.idx]
	a.sum += tr - old
	a.ring[a.idx] = tr
	a.idx = (a.idx + 1) % a.period
	if a.filled < a.period {
		a.filled++
	}
	if a.filled < a.period {
		return 0, false
	}
	return a.sum / float64(a.period), true
}

func trueRange(high, low, prevClose float64) float64 {
	tr1 := high - low
	tr2 := math.Abs(high - prevClose)
	tr3 := math.Abs(low - prevClose)
	return math.Max(tr1, math.Max(tr2, tr3))
}
