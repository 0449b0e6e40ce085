package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the benchmark harness.
type ErrorCode string

// Configuration error codes. These are fatal before any checkpoint mutation.
const (
	ErrUnknownProvider  ErrorCode = "UNKNOWN_PROVIDER"
	ErrUnknownBenchmark ErrorCode = "UNKNOWN_BENCHMARK"
	ErrUnknownJudge     ErrorCode = "UNKNOWN_JUDGE"
	ErrUnknownStrategy  ErrorCode = "UNKNOWN_STRATEGY"
	ErrInvalidConfig    ErrorCode = "INVALID_CONFIG"
)

// Run error codes.
const (
	ErrRunNotFound   ErrorCode = "RUN_NOT_FOUND"
	ErrRunExists     ErrorCode = "RUN_EXISTS"
	ErrPhaseFailed   ErrorCode = "PHASE_FAILED"
	ErrRunStopped    ErrorCode = "RUN_STOPPED"
	ErrCheckpointIO  ErrorCode = "CHECKPOINT_IO"
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRunID attaches the run id the error belongs to.
func (e *Error) WithRunID(runID string) *Error {
	e.RunID = runID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the ErrorCode from an error chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsStopped reports whether the error chain contains a user stop.
func IsStopped(err error) bool {
	return CodeOf(err) == ErrRunStopped
}

// IsNotFound reports whether the error chain contains a missing-run error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrRunNotFound
}
