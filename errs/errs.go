// Package errs defines the sentinel error kinds used across this
// module: typed values wrapped with fmt.Errorf("...: %w", err) rather
// than ad hoc string errors.
package errs

import "errors"

var (
	ErrInvalidSpec           = errors.New("invalid_spec")
	ErrInvalidCondition      = errors.New("invalid_condition")
	ErrInsufficientHistory   = errors.New("insufficient_history")
	ErrDailyLossLimit        = errors.New("daily_loss_limit")
	ErrPositionAlreadyOpen   = errors.New("position_already_open")
	ErrPositionSizeExceeded  = errors.New("position_size_exceeded")
	ErrDataFetchError        = errors.New("data_fetch_error")
	ErrEngineInvariant       = errors.New("engine_invariant")
)
