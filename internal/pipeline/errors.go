package pipeline

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable category for pipeline errors.
// CLI exit codes and API error payloads are derived from it.
type Code string

const (
	// CodeValidation marks bad input: empty task description, unknown
	// run ID, malformed indicator sets.
	CodeValidation Code = "validation"

	// CodeGateFailure marks a phase grade below the quality threshold.
	CodeGateFailure Code = "gate_failure"

	// CodeTimeout marks a phase or run exceeding its hard limit.
	CodeTimeout Code = "timeout"

	// CodeExecutor marks an infrastructure fault in a phase executor
	// or reviewer. Classified severe by the recovery controller.
	CodeExecutor Code = "executor"

	// CodeEscalation marks a run that ended in human escalation.
	CodeEscalation Code = "escalation_required"

	// CodeAborted marks a run cancelled by operator request.
	CodeAborted Code = "aborted"
)

// Error is the structured error carried across pipeline boundaries.
// Expected pipeline outcomes (gate failures, retry exhaustion) stay in
// typed return values; Error is for conditions the caller must handle.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given code and message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches a wrapped cause and returns the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error retryable and returns it.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the pipeline error code from an error chain.
// Returns an empty code when the chain carries no *Error.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether the error chain is marked retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// ErrAborted is the cancellation cause installed when an operator
// aborts a run. The sequencer uses it to distinguish aborts from
// deadline breaches.
var ErrAborted = errors.New("pipeline run aborted")
