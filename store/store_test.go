package store

import (
	"path/filepath"
	"testing"
	"time"

	"hybridtrader/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SpecStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "specs.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStrategy(t *testing.T, ticker string) *spec.Strategy {
	t.Helper()
	dataReq := spec.DataRequirements{Indicators: []string{"rsi14"}, Lookback: 14, MinDataPoints: 15}
	signals := []spec.Signal{{ID: "s1", Condition: "rsi < 30", Action: spec.ActionBuy, PositionSize: 0.1}}
	st, err := spec.New(ticker, "1day", dataReq, signals, spec.RiskParameters{MaxPositionSize: 1}, "q", spec.SourceManual, time.Hour)
	require.NoError(t, err)
	return st
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	st := newTestStrategy(t, "AAPL")
	require.NoError(t, s.Create(st))

	got, err := s.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Ticker, got.Ticker)
	assert.Equal(t, st.Signals[0].Condition, got.Signals[0].Condition)
	assert.NotNil(t, got.Signals[0].Predicate())
}

func TestUpdatePersistsNewConfig(t *testing.T) {
	s := openTestStore(t)
	st := newTestStrategy(t, "AAPL")
	require.NoError(t, s.Create(st))

	st.SourceQuery = "revised query"
	require.NoError(t, s.Update(st))

	got, err := s.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised query", got.SourceQuery)
}

func TestDeleteRemovesSpec(t *testing.T) {
	s := openTestStore(t)
	st := newTestStrategy(t, "AAPL")
	require.NoError(t, s.Create(st))
	require.NoError(t, s.Delete(st.ID))

	_, err := s.Get(st.ID)
	require.Error(t, err)
}

func TestListReturnsAllSpecsForTicker(t *testing.T) {
	s := openTestStore(t)
	a := newTestStrategy(t, "AAPL")
	b := newTestStrategy(t, "AAPL")
	other := newTestStrategy(t, "MSFT")
	require.NoError(t, s.Create(a))
	require.NoError(t, s.Create(b))
	require.NoError(t, s.Create(other))

	list, err := s.List("AAPL")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSetActiveIsExclusivePerTicker(t *testing.T) {
	s := openTestStore(t)
	a := newTestStrategy(t, "AAPL")
	b := newTestStrategy(t, "AAPL")
	require.NoError(t, s.Create(a))
	require.NoError(t, s.Create(b))

	require.NoError(t, s.SetActive("AAPL", a.ID))
	active, err := s.GetActive("AAPL")
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)

	require.NoError(t, s.SetActive("AAPL", b.ID))
	active, err = s.GetActive("AAPL")
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)
}

func TestDuplicateCreatesInactiveCopy(t *testing.T) {
	s := openTestStore(t)
	st := newTestStrategy(t, "AAPL")
	require.NoError(t, s.Create(st))
	require.NoError(t, s.SetActive("AAPL", st.ID))

	require.NoError(t, s.Duplicate(st.ID, "dup-id"))
	dup, err := s.Get("dup-id")
	require.NoError(t, err)
	assert.Equal(t, st.Ticker, dup.Ticker)

	_, err = s.GetActive("AAPL")
	require.NoError(t, err) // original is still active, duplicate is not
}
