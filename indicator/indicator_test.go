package indicator

import (
	"math"
	"testing"
	"time"

	"hybridtrader/bar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(s *Set, closes []float64) []bar.EnrichedBar {
	out := make([]bar.EnrichedBar, 0, len(closes))
	ts := time.Now()
	for i, c := range closes {
		b := bar.Bar{Ticker: "TEST", Timestamp: ts.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1000}
		out = append(out, s.Update(b))
	}
	return out
}

func recomputeSMA(closes []float64, period int) float64 {
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

func TestSMAIncrementalMatchesRecompute(t *testing.T) {
	s := NewSet(Config{SMAPeriods: []int{5}})
	closes := []float64{10, 11, 12, 13, 14, 15, 16, 9, 20, 30}
	results := feed(s, closes)

	for i := 4; i < len(closes); i++ {
		want := recomputeSMA(closes[:i+1], 5)
		assert.InDelta(t, want, results[i].SMA[5], 1e-9)
	}
}

func TestSMAOfConstantsEqualsConstant(t *testing.T) {
	s := NewSet(Config{SMAPeriods: []int{4}})
	closes := []float64{7, 7, 7, 7, 7}
	results := feed(s, closes)
	assert.InDelta(t, 7.0, results[3].SMA[4], 1e-9)
}

func TestEMASeedsFromSMA(t *testing.T) {
	s := NewSet(Config{EMAPeriods: []int{3}})
	closes := []float64{10, 20, 30, 40, 50}
	results := feed(s, closes)
	assert.InDelta(t, 20.0, results[2].EMA[3], 1e-9) // seed = mean(10,20,30)
	mult := 2.0 / 4.0
	want := (40.0-20.0)*mult + 20.0
	assert.InDelta(t, want, results[3].EMA[3], 1e-9)
}

func TestRSIMonotonicIncreasingApproachesHundred(t *testing.T) {
	s := NewSet(Config{RSIPeriod: 14})
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	results := feed(s, closes)
	assert.Equal(t, 100.0, results[len(results)-1].RSI)
}

func TestRSIMonotonicDecreasingApproachesZero(t *testing.T) {
	s := NewSet(Config{RSIPeriod: 14})
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(30 - i)
	}
	results := feed(s, closes)
	assert.Equal(t, 0.0, results[len(results)-1].RSI)
}

func TestBollingerZeroStddevBandsCollapse(t *testing.T) {
	s := NewSet(Config{BollingerPeriod: 5, BollingerK: 2})
	closes := []float64{42, 42, 42, 42, 42}
	results := feed(s, closes)
	last := results[len(results)-1]
	assert.InDelta(t, 42.0, last.BollingerMid, 1e-9)
	assert.InDelta(t, last.BollingerMid, last.BollingerUp, 1e-9)
	assert.InDelta(t, last.BollingerMid, last.BollingerDn, 1e-9)
}

func TestATRTwoBarExample(t *testing.T) {
	s := NewSet(Config{ATRPeriod: 1})
	ts := time.Now()
	b1 := bar.Bar{Timestamp: ts, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}
	b2 := bar.Bar{Timestamp: ts.Add(time.Minute), Open: 11, High: 14, Low: 10, Close: 13, Volume: 100}
	s.Update(b1)
	eb2 := s.Update(b2)
	require.True(t, eb2.Ready["atr"])
	assert.InDelta(t, 4.0, eb2.ATR, 1e-9)
}

func TestMACDUsesCorrectEMA9Signal(t *testing.T) {
	s := NewSet(Config{MACD: true, MACDFast: 12, MACDSlow: 26, MACDSignal: 9})
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i)/5.0)*10
	}
	results := feed(s, closes)
	last := results[len(results)-1]
	assert.InDelta(t, last.MACD-last.MACDSignal, last.MACDHist, 1e-9)
}

func TestVolumeRatio(t *testing.T) {
	s := NewSet(Config{VolumeAvgPeriod: 3})
	ts := time.Now()
	vols := []float64{100, 100, 100, 400}
	var last bar.EnrichedBar
	for i, v := range vols {
		b := bar.Bar{Timestamp: ts.Add(time.Duration(i) * time.Minute), Close: 10, Volume: v}
		last = s.Update(b)
	}
	assert.InDelta(t, 200.0, last.VolumeAvg, 1e-9) // mean(100,100,400)
	assert.InDelta(t, 2.0, last.VolumeRatio, 1e-9)
}
