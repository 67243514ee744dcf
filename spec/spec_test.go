package spec

import (
	"encoding/json"
	"testing"
	"time"

	"hybridtrader/condition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDataReq() DataRequirements {
	return DataRequirements{Indicators: []string{"rsi", "sma20"}, Lookback: 20, MinDataPoints: 21}
}

func validSignal(id string, priority int) Signal {
	return Signal{ID: id, Condition: "rsi < 30", Action: ActionBuy, PositionSize: 0.1, Priority: priority}
}

func TestNewRejectsEmptySignals(t *testing.T) {
	_, err := New("AAPL", "1day", validDataReq(), nil, RiskParameters{}, "q", SourceManual, time.Hour)
	require.ErrorIs(t, err, ErrNoSignals)
}

func TestNewRejectsBadTimeframe(t *testing.T) {
	_, err := New("AAPL", "3min", validDataReq(), []Signal{validSignal("s1", 0)}, RiskParameters{}, "q", SourceManual, time.Hour)
	require.ErrorIs(t, err, ErrBadTimeframe)
}

func TestNewRejectsDuplicateSignalIDs(t *testing.T) {
	signals := []Signal{validSignal("s1", 0), validSignal("s1", 1)}
	_, err := New("AAPL", "1day", validDataReq(), signals, RiskParameters{}, "q", SourceManual, time.Hour)
	require.ErrorIs(t, err, ErrDuplicateSignalID)
}

func TestNewRejectsInsufficientLookback(t *testing.T) {
	dataReq := DataRequirements{Indicators: []string{"rsi14"}, Lookback: 5, MinDataPoints: 6}
	_, err := New("AAPL", "1day", dataReq, []Signal{validSignal("s1", 0)}, RiskParameters{}, "q", SourceManual, time.Hour)
	require.ErrorIs(t, err, ErrBadDataRequirement)
}

func TestNewRejectsInvalidCondition(t *testing.T) {
	signals := []Signal{{ID: "s1", Condition: "process.exit()", Action: ActionBuy}}
	_, err := New("AAPL", "1day", validDataReq(), signals, RiskParameters{}, "q", SourceManual, time.Hour)
	require.ErrorIs(t, err, ErrInvalidCondition)
}

func TestNewSortsSignalsByPriorityDescending(t *testing.T) {
	signals := []Signal{validSignal("low", 1), validSignal("high", 10), validSignal("mid", 5)}
	st, err := New("AAPL", "1day", validDataReq(), signals, RiskParameters{}, "q", SourceManual, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{st.Signals[0].ID, st.Signals[1].ID, st.Signals[2].ID})
}

func TestRecompileRestoresPredicateAfterJSONRoundTrip(t *testing.T) {
	st, err := New("AAPL", "1day", validDataReq(), []Signal{validSignal("s1", 0)}, RiskParameters{}, "q", SourceManual, time.Hour)
	require.NoError(t, err)

	// Simulate what happens after json.Unmarshal: compiled is nil again.
	st.Signals[0] = Signal{ID: st.Signals[0].ID, Condition: st.Signals[0].Condition, Action: st.Signals[0].Action}
	assert.Nil(t, st.Signals[0].Predicate())

	require.NoError(t, st.Recompile())
	assert.NotNil(t, st.Signals[0].Predicate())
}

func TestSignalDisablesAfterThreeConsecutivePanics(t *testing.T) {
	s := &Signal{ID: "s1", Condition: "rsi < 30"}
	pred, err := condition.Compile(s.Condition)
	require.NoError(t, err)
	// Wrap the real predicate so it panics, simulating an evaluator bug,
	// and verify Evaluate's recover-and-count path disables after 3.
	s.compiled = func(fields map[string]float64) bool {
		_ = pred
		panic("boom")
	}

	for i := 0; i < 2; i++ {
		_, err := s.Evaluate(map[string]float64{"rsi": 10})
		require.Error(t, err)
		assert.False(t, s.Disabled())
	}
	_, err = s.Evaluate(map[string]float64{"rsi": 10})
	require.Error(t, err)
	assert.True(t, s.Disabled())

	ok, err := s.Evaluate(map[string]float64{"rsi": 10})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalEvaluateResetsCounterOnSuccess(t *testing.T) {
	s := &Signal{ID: "s1", Condition: "rsi < 30"}
	pred, err := condition.Compile(s.Condition)
	require.NoError(t, err)
	s.compiled = pred

	ok, evalErr := s.Evaluate(map[string]float64{"rsi": 10})
	require.NoError(t, evalErr)
	assert.True(t, ok)
	assert.False(t, s.Disabled())
}

func TestStatusLifecycleTransitions(t *testing.T) {
	now := time.Now()
	st, err := New("AAPL", "1day", validDataReq(), []Signal{validSignal("s1", 0)}, RiskParameters{}, "q", SourceManual, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, LifecycleCompiled, st.Status(now))
	assert.Equal(t, LifecycleExpired, st.Status(now.Add(2*time.Hour)))

	st.Unload()
	assert.Equal(t, LifecycleUnloaded, st.Status(now))
}

func TestSerializeDeserializeSerializeIsByteIdentical(t *testing.T) {
	st, err := New("AAPL", "1day", validDataReq(), []Signal{validSignal("s1", 0)}, RiskParameters{MaxPositionSize: 0.2}, "q", SourceManual, time.Hour)
	require.NoError(t, err)

	first, err := json.Marshal(st)
	require.NoError(t, err)

	var roundTripped Strategy
	require.NoError(t, json.Unmarshal(first, &roundTripped))
	require.NoError(t, roundTripped.Recompile())

	second, err := json.Marshal(&roundTripped)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestPeriodOfDefaults(t *testing.T) {
	assert.Equal(t, 26, periodOf("macd"))
	assert.Equal(t, 20, periodOf("bb"))
	assert.Equal(t, 14, periodOf("atr"))
	assert.Equal(t, 14, periodOf("rsi"))
	assert.Equal(t, 20, periodOf("sma20"))
	assert.Equal(t, 9, periodOf("ema9"))
	assert.Equal(t, 0, periodOf("close"))
}
