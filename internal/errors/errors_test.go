package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelMatchingSurvivesDecoration(t *testing.T) {
	err := fmt.Errorf("cast vote: %w", ErrAlreadyVoted.WithDetails("task_id", "t1"))
	if !stderrors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected errors.Is to match AlreadyVoted")
	}
	if stderrors.Is(err, ErrVotingClosed) {
		t.Fatalf("different codes must not match")
	}
	se := GetServiceError(err)
	if se == nil || se.Details["task_id"] != "t1" {
		t.Fatalf("details lost: %+v", se)
	}
	if ErrAlreadyVoted.Details != nil {
		t.Fatalf("WithDetails must not mutate the sentinel")
	}
}

func TestClassAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		class  Class
		status int
	}{
		{ErrNotOwner, ClassAuthorization, http.StatusForbidden},
		{ErrVotingClosed, ClassStateConflict, http.StatusConflict},
		{ErrInvalidConfidence, ClassValidation, http.StatusBadRequest},
		{ErrInsufficientStake, ClassResource, http.StatusUnprocessableEntity},
		{NotFound("task", "x"), ClassResource, http.StatusNotFound},
		{stderrors.New("boom"), ClassInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.err); got != tt.class {
			t.Errorf("%v: class %s, want %s", tt.err, got, tt.class)
		}
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Errorf("%v: status %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestInternalWrapsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Internal("commit", cause)
	if !stderrors.Is(err, cause) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if !stderrors.Is(err, ErrInternal) {
		t.Fatalf("expected internal code")
	}
}
