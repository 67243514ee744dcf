// Package spec defines the Strategy Spec data model: the declarative,
// compiled output of whatever produces trading strategies (an LLM
// planner, a human operator, a backtest replay) and the only thing the
// fast execution engine is allowed to consume. The field shapes follow
// a nested risk/data config, JSON-tagged for persistence, re-themed
// from coin-selection/indicator-toggle config onto this system's
// signal list.
package spec

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"hybridtrader/condition"

	"github.com/google/uuid"
)

// Action is the directive a Signal or TradeDecision carries.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Source records how a Spec came to exist: an abstract Spec Producer
// can just as well be a human operator posting JSON through the API as
// the LLM planner.
type Source string

const (
	SourceLLM            Source = "llm"
	SourceManual         Source = "manual"
	SourceBacktestReplay Source = "backtest-replay"
)

// Lifecycle is the Spec's compiled/expired/unloaded state, observed
// rather than stored: Status derives it from ExpiresAt and an unexported
// unloaded flag set by Strategy.Unload. engine.Engine.Unload(ticker)
// drops the ticker's state without setting this flag.
type Lifecycle string

const (
	LifecycleCompiled Lifecycle = "compiled"
	LifecycleExpired  Lifecycle = "expired"
	LifecycleUnloaded Lifecycle = "unloaded"
)

var (
	ErrInvalidCondition  = condition.ErrInvalidCondition
	ErrNoSignals         = errors.New("spec: signals must be non-empty")
	ErrDuplicateSignalID = errors.New("spec: signal ids must be unique")
	ErrBadDataRequirement = errors.New("spec: lookback/min_data_points too small for requested indicators")
	ErrBadTimeframe      = errors.New("spec: unsupported timeframe")
)

var validTimeframes = map[string]bool{
	"1min": true, "5min": true, "15min": true, "1hour": true, "1day": true,
}

// Signal is one guarded trading rule: a condition expression gating an
// action, sized and prioritized.
type Signal struct {
	ID           string  `json:"id"`
	Condition    string  `json:"condition"`
	Action       Action  `json:"action"`
	PositionSize float64 `json:"position_size"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Priority     int     `json:"priority"`

	// compiled is populated by New and Recompile; nil until then. Unexported so
	// JSON round-trips never try to serialize a closure.
	compiled condition.Predicate

	// consecutiveErrors counts runtime evaluation failures in a row; at
	// 3 the signal is disabled for the remainder of the Spec's life.
	consecutiveErrors int
	disabled          bool
}

// Disabled reports whether three consecutive runtime errors have retired
// this signal for the life of its Spec.
func (s *Signal) Disabled() bool { return s.disabled }

// RiskParameters bounds position sizing and loss tolerance; every field
// is a fraction, never an absolute currency amount.
type RiskParameters struct {
	MaxPositionSize  float64 `json:"max_position_size"`
	StopLoss         float64 `json:"stop_loss"`
	TakeProfit       float64 `json:"take_profit"`
	MaxDailyLoss     float64 `json:"max_daily_loss"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	UseDynamicSizing bool    `json:"use_dynamic_sizing"`
	RiskPerTrade     float64 `json:"risk_per_trade"`
}

// DataRequirements declares which indicators a Spec needs and how much
// history the engine must accumulate before evaluating it.
type DataRequirements struct {
	Indicators    []string `json:"indicators"`
	Lookback      int      `json:"lookback"`
	MinDataPoints int      `json:"min_data_points"`
}

// Strategy is a compiled Strategy Spec: the unit the Orchestrator loads
// into the fast execution engine, keyed by Ticker.
type Strategy struct {
	ID               string           `json:"id"`
	Ticker           string           `json:"ticker"`
	Timeframe        string           `json:"timeframe"`
	DataRequirements DataRequirements `json:"data_requirements"`
	Signals          []Signal         `json:"signals"`
	RiskParams       RiskParameters   `json:"risk_params"`
	CompiledAt       time.Time        `json:"compiled_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	SourceQuery      string           `json:"source_query"`
	Source           Source           `json:"source"`

	unloaded bool
}

// New validates and compiles a fresh Strategy, assigning it a UUID. It
// returns ErrNoSignals / ErrDuplicateSignalID / ErrBadTimeframe /
// ErrBadDataRequirement / ErrInvalidCondition before ever letting an
// invalid Spec reach the Orchestrator: a compile error always fails the
// load outright.
func New(ticker, timeframe string, dataReq DataRequirements, signals []Signal, risk RiskParameters, sourceQuery string, source Source, ttl time.Duration) (*Strategy, error) {
	if len(signals) == 0 {
		return nil, ErrNoSignals
	}
	if !validTimeframes[timeframe] {
		return nil, fmt.Errorf("%w: %q", ErrBadTimeframe, timeframe)
	}

	seen := make(map[string]bool, len(signals))
	for _, s := range signals {
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSignalID, s.ID)
		}
		seen[s.ID] = true
	}

	maxPeriod := maxIndicatorPeriod(dataReq.Indicators)
	if dataReq.Lookback < maxPeriod {
		return nil, fmt.Errorf("%w: lookback %d < max indicator period %d", ErrBadDataRequirement, dataReq.Lookback, maxPeriod)
	}
	if dataReq.MinDataPoints < maxPeriod+1 {
		return nil, fmt.Errorf("%w: min_data_points %d < max indicator period %d + 1", ErrBadDataRequirement, dataReq.MinDataPoints, maxPeriod)
	}

	now := time.Now()
	st := &Strategy{
		ID:               uuid.NewString(),
		Ticker:           ticker,
		Timeframe:        timeframe,
		DataRequirements: dataReq,
		Signals:          append([]Signal(nil), signals...),
		RiskParams:       risk,
		CompiledAt:       now,
		ExpiresAt:        now.Add(ttl),
		SourceQuery:      sourceQuery,
		Source:           source,
	}
	sort.SliceStable(st.Signals, func(i, j int) bool { return st.Signals[i].Priority > st.Signals[j].Priority })

	if err := st.compileSignals(); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Strategy) compileSignals() error {
	for i := range st.Signals {
		pred, err := condition.Compile(st.Signals[i].Condition)
		if err != nil {
			return fmt.Errorf("signal %q: %w", st.Signals[i].ID, err)
		}
		st.Signals[i].compiled = pred
	}
	return nil
}

// Recompile re-parses every signal's condition string, used after a Spec
// round-trips through JSON storage (compiled predicates are not
// serialized, see Signal.compiled).
func (st *Strategy) Recompile() error { return st.compileSignals() }

// Predicate returns the signal's compiled predicate. It does not compile
// on demand: for a Spec decoded from storage it is nil until Recompile
// runs.
func (s *Signal) Predicate() condition.Predicate { return s.compiled }

// Evaluate runs the signal's compiled condition against fields, tracking
// the disable-after-3-consecutive-errors rule. A panic recovered from the
// underlying evaluator (should not happen; condition.Compile only emits
// total functions) counts as a runtime error rather than crashing the
// caller's decision loop.
func (s *Signal) Evaluate(fields map[string]float64) (result bool, err error) {
	if s.disabled || s.compiled == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal %q panicked: %v", s.ID, r)
		}
		if err != nil {
			s.consecutiveErrors++
			if s.consecutiveErrors >= 3 {
				s.disabled = true
			}
		} else {
			s.consecutiveErrors = 0
		}
	}()
	return s.compiled(fields), nil
}

// Status derives the Spec's lifecycle at instant `now`.
func (st *Strategy) Status(now time.Time) Lifecycle {
	if st.unloaded {
		return LifecycleUnloaded
	}
	if now.After(st.ExpiresAt) {
		return LifecycleExpired
	}
	return LifecycleCompiled
}

// Unload marks the Spec unloaded, the terminal state of the
// "compiled -> expired -> unloaded" lifecycle.
func (st *Strategy) Unload() { st.unloaded = true }

func maxIndicatorPeriod(indicators []string) int {
	max := 0
	for _, name := range indicators {
		if p := periodOf(name); p > max {
			max = p
		}
	}
	return max
}

// periodOf extracts the trailing integer period from an indicator name
// like "sma20", "ema12", "rsi14", falling back to the conventional
// defaults for bare names like "macd" (26, its slow leg) and "bb" (20).
func periodOf(name string) int {
	switch name {
	case "macd":
		return 26
	case "bb", "bollinger":
		return 20
	case "atr":
		return 14
	case "rsi":
		return 14
	case "volume_avg":
		return 20
	}
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return 0
	}
	n := 0
	for _, c := range name[i:] {
		n = n*10 + int(c-'0')
	}
	return n
}
