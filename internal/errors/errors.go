// Package errors defines the failure taxonomy of the decision pipeline.
//
// Stage code never lets a single failure abort a run. Each failure class maps
// to a degrade policy:
//   - ErrDataUnavailable: the analyst report is marked unavailable
//   - ErrReasoningTransient: retried with backoff, then a placeholder is used
//   - ErrMalformedOutput: the decision falls back to HOLD with a warning
//   - ErrCanceled: the active debate is force-closed and the run degrades
//
// ErrInvariant is the only class that fails a run.
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

var (
	ErrDataUnavailable    = errors.New("data unavailable")
	ErrReasoningTransient = errors.New("reasoning transient failure")
	ErrMalformedOutput    = errors.New("malformed output")
	ErrCanceled           = errors.New("run canceled")
	ErrInvariant          = errors.New("invariant violation")
)

// DataUnavailableError reports a tool provider failure for one analyst kind.
type DataUnavailableError struct {
	Kind   string
	Source string
	Err    error
}

func NewDataUnavailableError(kind, source string, err error) *DataUnavailableError {
	return &DataUnavailableError{Kind: kind, Source: source, Err: err}
}

func (e *DataUnavailableError) Error() string {
	msg := fmt.Sprintf("%s data unavailable", e.Kind)
	if e.Source != "" {
		msg += " from " + e.Source
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// ReasoningError is returned once a role's invocation exhausted its retries.
type ReasoningError struct {
	Role     string
	Attempts int
	Err      error
}

func NewReasoningError(role string, attempts int, err error) *ReasoningError {
	return &ReasoningError{Role: role, Attempts: attempts, Err: err}
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("%s: reasoning failed after %d attempt(s): %v", e.Role, e.Attempts, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

func (e *ReasoningError) Is(target error) bool {
	return target == ErrReasoningTransient
}

// InvariantError reports a broken state-machine or data-model invariant.
type InvariantError struct {
	What string
}

func Invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{What: fmt.Sprintf(format, args...)}
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.What
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// MalformedOutputError describes text that could not be turned into a decision.
type MalformedOutputError struct {
	Role   string
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: malformed output: %s", e.Role, e.Reason)
}

func (e *MalformedOutputError) Is(target error) bool {
	return target == ErrMalformedOutput
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled)
}

// IsRetryable reports whether a reasoning call that failed with err should be
// attempted again. Cancellation and invariant violations are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCanceled(err) || errors.Is(err, ErrInvariant) || errors.Is(err, ErrDataUnavailable) {
		return false
	}
	return true
}
