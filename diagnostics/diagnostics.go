// Package diagnostics produces a structured explanation for why a
// backtest produced zero trades. It never guesses: each check is a
// simple predicate over the Spec and bar count, evaluated in a fixed
// order, first match wins.
package diagnostics

import (
	"strings"

	"hybridtrader/backtest"
	"hybridtrader/spec"
)

// Reason is the closed set of zero-trade diagnoses.
type Reason string

const (
	ReasonInsufficientHistory    Reason = "insufficient_history"
	ReasonNoBuySignals           Reason = "no_buy_signals"
	ReasonOverRestrictive        Reason = "over_restrictive_conditions"
	ReasonLookbackTooLong        Reason = "lookback_too_long"
	ReasonUntriggered            Reason = "untriggered"
)

// Diagnosis is the structured result: a reason plus human-readable
// suggestions.
type Diagnosis struct {
	Reason      Reason
	Suggestions []string
}

// Diagnose inspects a Spec and the bar count used for the backtest that
// produced result, returning nil if result had trades (diagnosis only
// applies to the zero-trade case).
func Diagnose(st *spec.Strategy, barsCount int, result backtest.Result) *Diagnosis {
	if result.TotalTrades > 0 {
		return nil
	}

	if barsCount < 100 {
		return &Diagnosis{
			Reason:      ReasonInsufficientHistory,
			Suggestions: []string{"use a longer historical range; fewer than 100 bars rarely exercises a strategy"},
		}
	}

	if !hasBuySignal(st) {
		return &Diagnosis{
			Reason:      ReasonNoBuySignals,
			Suggestions: []string{"this strategy has no BUY-action signal; add one or it can never open a position"},
		}
	}

	if isOverRestrictive(st) {
		return &Diagnosis{
			Reason: ReasonOverRestrictive,
			Suggestions: []string{
				"simplify conditions with three or more conjunctive terms",
				"reduce the number of distinct indicators a single condition depends on",
			},
		}
	}

	if st.DataRequirements.Lookback > barsCount/2 {
		return &Diagnosis{
			Reason:      ReasonLookbackTooLong,
			Suggestions: []string{"lookback exceeds half the available history; shorten it or fetch more bars"},
		}
	}

	return &Diagnosis{
		Reason: ReasonUntriggered,
		Suggestions: []string{
			"widen the historical range",
			"relax condition thresholds",
			"add a trend-following signal alongside the mean-reversion one",
		},
	}
}

func hasBuySignal(st *spec.Strategy) bool {
	for _, sig := range st.Signals {
		if sig.Action == spec.ActionBuy {
			return true
		}
	}
	return false
}

// isOverRestrictive flags a signal whose condition has >= 3 conjunctive
// (&&) terms or references >= 4 distinct indicator-like identifiers.
func isOverRestrictive(st *spec.Strategy) bool {
	for _, sig := range st.Signals {
		if strings.Count(sig.Condition, "&&") >= 2 {
			return true
		}
		if countDistinctIdentifiers(sig.Condition) >= 4 {
			return true
		}
	}
	return false
}

func countDistinctIdentifiers(expr string) int {
	seen := make(map[string]bool)
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			seen[cur.String()] = true
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (cur.Len() > 0 && r >= '0' && r <= '9'):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return len(seen)
}
