package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies remediation pipeline failures.
type ErrorType string

const (
	// ErrorTypeValidation marks malformed change documents or missing
	// parameters. Never retried, always surfaced to the result.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeSafetyRejected marks plans rejected by safety policy.
	ErrorTypeSafetyRejected ErrorType = "safety_rejected"
	// ErrorTypeApprovalPending marks plans held for human approval. Not a
	// failure; a legitimate terminal-for-now state.
	ErrorTypeApprovalPending ErrorType = "approval_pending"
	// ErrorTypeExecution marks a failed apply. Triggers a rollback attempt.
	ErrorTypeExecution ErrorType = "execution"
	// ErrorTypeVerification marks an apply that succeeded but left the
	// original condition in place. No rollback: the infrastructure is in a
	// valid, just insufficient, state.
	ErrorTypeVerification ErrorType = "verification"
	// ErrorTypeTransient marks timeouts and network errors from external
	// collaborators. Fails the step, never crashes the loop.
	ErrorTypeTransient ErrorType = "transient"
)

// RemedyError is the structured error carried through the pipeline.
type RemedyError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation,omitempty"`
	Checks    []string               `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Wrapped   error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface.
func (e *RemedyError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Operation != "" {
		parts = append(parts, e.Operation+":")
	}
	parts = append(parts, e.Message)
	if len(e.Checks) > 0 {
		parts = append(parts, fmt.Sprintf("(checks: %s)", strings.Join(e.Checks, ", ")))
	}
	if e.Wrapped != nil {
		parts = append(parts, fmt.Sprintf("caused by: %v", e.Wrapped))
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the wrapped error.
func (e *RemedyError) Unwrap() error {
	return e.Wrapped
}

// Is matches on error type so callers can branch with errors.Is.
func (e *RemedyError) Is(target error) bool {
	t, ok := target.(*RemedyError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail attaches a context detail and returns the error.
func (e *RemedyError) WithDetail(key string, value interface{}) *RemedyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a RemedyError of the given type.
func New(errType ErrorType, operation, message string) *RemedyError {
	return &RemedyError{
		Type:      errType,
		Message:   message,
		Operation: operation,
		Timestamp: time.Now().UTC(),
		Retryable: errType == ErrorTypeTransient,
	}
}

// Wrap creates a RemedyError wrapping an underlying cause.
func Wrap(errType ErrorType, operation string, err error) *RemedyError {
	re := New(errType, operation, err.Error())
	re.Wrapped = err
	return re
}

// NewValidation creates a validation error.
func NewValidation(operation, message string) *RemedyError {
	return New(ErrorTypeValidation, operation, message)
}

// NewSafetyRejected creates a safety rejection carrying the failed checks.
func NewSafetyRejected(failedChecks []string) *RemedyError {
	e := New(ErrorTypeSafetyRejected, "safety_validation",
		fmt.Sprintf("plan rejected by %d safety check(s)", len(failedChecks)))
	e.Checks = failedChecks
	return e
}

// NewApprovalPending creates the approval-hold marker error.
func NewApprovalPending(planID string) *RemedyError {
	return New(ErrorTypeApprovalPending, "approval_gate", "approval required").
		WithDetail("plan_id", planID)
}

// NewTransient creates a transient I/O error from an external collaborator.
func NewTransient(operation string, err error) *RemedyError {
	return Wrap(ErrorTypeTransient, operation, err)
}

// TypeOf extracts the taxonomy type from an error chain, converting plain
// errors to the nearest kind: context deadline/cancellation becomes
// transient, everything else execution.
func TypeOf(err error) ErrorType {
	var re *RemedyError
	if errors.As(err, &re) {
		return re.Type
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeTransient
	}
	return ErrorTypeExecution
}

// IsType reports whether err carries the given taxonomy type.
func IsType(err error, t ErrorType) bool {
	var re *RemedyError
	if errors.As(err, &re) {
		return re.Type == t
	}
	return false
}
