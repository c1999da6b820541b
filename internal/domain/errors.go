package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for API mapping and logging. The kinds are
// stable strings, not iota constants, so they survive serialization.
type ErrorKind string

const (
	KindConfiguration   ErrorKind = "configuration_error"
	KindDataUnavailable ErrorKind = "data_unavailable_error"
	KindEvaluation      ErrorKind = "evaluation_error"
	KindSimulation      ErrorKind = "simulation_error"
	KindCacheCompute    ErrorKind = "cache_compute_error"
	KindInternal        ErrorKind = "internal_error"
)

// Error is a kind-tagged error. The cause, when present, stays reachable
// through errors.Is/As.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewConfigurationError tags an invalid-input failure. Configuration errors
// are caller mistakes and never have an internal cause.
func NewConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func NewDataUnavailableError(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindDataUnavailable, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewEvaluationError(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindEvaluation, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewSimulationError(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindSimulation, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewCacheComputeError wraps a computation failure observed through the
// result cache. Failed computations are reported, never memoized.
func NewCacheComputeError(cause error) *Error {
	return &Error{Kind: KindCacheCompute, Message: "cached computation failed", Cause: cause}
}

// KindOf extracts the kind from an error chain; untagged errors report
// KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError normalizes any error into a kind-tagged one without double
// wrapping.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Cause: err}
}
