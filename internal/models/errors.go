package models

import (
	"errors"
	"fmt"
)

// Sentinel causes for structural problems in a problem description.
var (
	ErrCyclicPrecedence = errors.New("cyclic precedence detected")
	ErrNoModes          = errors.New("task has no valid mode")
	ErrUnknownMachine   = errors.New("machine referenced but undefined")
	ErrDuplicateID      = errors.New("duplicate id")
	ErrInvalidWindow    = errors.New("invalid availability window")
	ErrInvalidValue     = errors.New("invalid value")
	ErrPatternMismatch  = errors.New("job does not match its pattern")
	ErrNoFeasibleMode   = errors.New("task cannot fit any availability window")
)

// ValidationError reports malformed or contradictory input. It is always raised before
// any search time is spent and is never retried.
type ValidationError struct {
	// Subject names the offending entity, e.g. "task T1" or "machine M2".
	Subject string
	Detail  string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Subject, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, subject, format string, args ...any) *ValidationError {
	return &ValidationError{Subject: subject, Detail: fmt.Sprintf(format, args...), Err: err}
}

// NewValidationError builds a ValidationError for callers outside this package.
func NewValidationError(err error, subject, format string, args ...any) *ValidationError {
	return invalid(err, subject, format, args...)
}
