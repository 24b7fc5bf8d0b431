package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown instances, targets or memory keys.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when starting an instance id twice.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidTransition is returned when a transition does not apply to the
	// instance's current phase.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPhaseRegression is returned when a change would move the phase backwards.
	ErrPhaseRegression = errors.New("phase regression")
	// ErrApprovalLocked is returned when approval is changed at or after phase E.
	ErrApprovalLocked = errors.New("approval is locked once execution started")
	// ErrNotAwaitingApproval is returned when approving an instance that is not
	// parked at the approval gate.
	ErrNotAwaitingApproval = errors.New("instance is not awaiting approval")
	// ErrInvalidOutcome is returned for unknown outcome reports.
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrStoreUnconfigured is returned when durable storage is required but no
	// backend is configured.
	ErrStoreUnconfigured = errors.New("durable store not configured")
	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a concurrent writer won a compare-and-swap.
	ErrConflict = errors.New("concurrent update conflict")
)

// FailureKind classifies executor failures.
type FailureKind string

const (
	FailureUnreachable FailureKind = "unreachable"
	FailureStatus      FailureKind = "status"
	FailureTimeout     FailureKind = "timeout"
	FailureRemote      FailureKind = "remote"
	FailureMalformed   FailureKind = "malformed"
	FailureCanceled    FailureKind = "canceled"
)

// ExecutionFailure is returned when the executor could not produce a result.
// It aborts the current step; the instance stays resumable from its last
// checkpoint.
type ExecutionFailure struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *ExecutionFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("executor %s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("executor %s: %v", e.Kind, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-running the step may succeed. Only caller
// cancellation is final.
func (e *ExecutionFailure) Retryable() bool {
	return e.Kind != FailureCanceled
}

// IsRetryable reports whether err wraps a retryable ExecutionFailure.
func IsRetryable(err error) bool {
	var ef *ExecutionFailure
	return errors.As(err, &ef) && ef.Retryable()
}
