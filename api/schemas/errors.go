// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors crossing component boundaries. Callers test with
// errors.Is; wrapped variants carry situational detail.
var (
	// ErrElementNotFound means the resolution chain was exhausted with no
	// match. Non-fatal at the resolver level; it becomes an action failure
	// only when the action actually needed a target.
	ErrElementNotFound = errors.New("element not found")

	// ErrDependencyCycle means the intent's sub-intent dependencies induce a
	// cyclic action graph. Fatal at plan construction; nothing executes.
	ErrDependencyCycle = errors.New("dependency cycle in execution plan")
)

// ErrorCode classifies action failures for retry decisions and reporting.
type ErrorCode string

const (
	CodeResolution ErrorCode = "RESOLUTION_FAILED" // Target element could not be resolved.
	CodeExecution  ErrorCode = "EXECUTION_FAILED"  // Handler returned an error.
	CodeTimeout    ErrorCode = "TIMEOUT"           // Attempt exceeded the action timeout.
	CodeVerify     ErrorCode = "VERIFICATION"      // A success criterion was not met.
	CodeInternal   ErrorCode = "INTERNAL"          // Engine-side defect.
)

// CodedError attaches a machine-readable code and retry hint to an action
// failure. It wraps the underlying cause for errors.Is/As.
type CodedError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// NewCodedError builds a retryable-by-default coded error.
func NewCodedError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message, Retryable: true}
}

// WithCause attaches the underlying error and returns the receiver.
func (e *CodedError) WithCause(cause error) *CodedError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retry hint and returns the receiver.
func (e *CodedError) WithRetryable(r bool) *CodedError {
	e.Retryable = r
	return e
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *CodedError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err carries a retryable hint; errors without a
// code default to retryable, matching the orchestrator's retry policy.
func IsRetryable(err error) bool {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}

// GetCode extracts the error code, or CodeInternal when none is attached.
func GetCode(err error) ErrorCode {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
