package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrLockHeld          = errors.New("lock already held")
	ErrMissingData       = errors.New("missing data")
	ErrInvalidInterval   = errors.New("invalid funding interval")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrExternalFetch     = errors.New("external fetch failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownExchange   = errors.New("unknown exchange")
	ErrHistoryTruncated  = errors.New("history truncated at page limit")
)

// MissingDataError reports a price or entry field that has not been populated
// yet. The position is skipped for the current tick.
type MissingDataError struct {
	PositionID string
	Leg        LegRole
	Field      string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("position %s %s leg: %s not set", e.PositionID, e.Leg, e.Field)
}

func (e *MissingDataError) Unwrap() error { return ErrMissingData }

// InvalidIntervalError is returned by the funding normalizer for a
// non-positive interval. It signals bad input data, not a transient failure.
type InvalidIntervalError struct {
	IntervalHours float64
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("funding interval must be > 0 hours, got %v", e.IntervalHours)
}

func (e *InvalidIntervalError) Unwrap() error { return ErrInvalidInterval }

// ExternalFetchError wraps any failure or timeout of an exchange collaborator.
type ExternalFetchError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *ExternalFetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Exchange, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause so callers can
// match either ErrExternalFetch or e.g. context.DeadlineExceeded.
func (e *ExternalFetchError) Unwrap() []error {
	return []error{ErrExternalFetch, e.Err}
}
