package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemedyErrorMessage(t *testing.T) {
	err := NewSafetyRejected([]string{"No valid rollback plan found", "No safety checks defined in plan"})
	msg := err.Error()
	assert.Contains(t, msg, "safety_rejected")
	assert.Contains(t, msg, "No valid rollback plan found")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewTransient("detect_all", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, err.Retryable)
	assert.Equal(t, ErrorTypeTransient, TypeOf(err))
}

func TestIsMatchesOnType(t *testing.T) {
	err := NewValidation("validate_document", "missing required parameters")
	assert.True(t, stderrors.Is(err, &RemedyError{Type: ErrorTypeValidation}))
	assert.False(t, stderrors.Is(err, &RemedyError{Type: ErrorTypeExecution}))
}

func TestTypeOfConvertsPlainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"deadline becomes transient", fmt.Errorf("apply: %w", context.DeadlineExceeded), ErrorTypeTransient},
		{"cancellation becomes transient", context.Canceled, ErrorTypeTransient},
		{"unknown becomes execution", stderrors.New("boom"), ErrorTypeExecution},
		{"wrapped remedy error wins", fmt.Errorf("outer: %w", NewApprovalPending("plan-1")), ErrorTypeApprovalPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.err))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := NewApprovalPending("plan-42")
	assert.Equal(t, "plan-42", err.Details["plan_id"])
	assert.True(t, IsType(err, ErrorTypeApprovalPending))
	assert.False(t, err.Retryable)
}
