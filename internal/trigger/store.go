package trigger

import (
	"context"
	"errors"
)

var (
	// ErrClaimConflict signals that a PENDING execution already exists for the
	// trigger. The later claimant must back off with no side effects.
	ErrClaimConflict = errors.New("trigger: execution already claimed")

	// ErrNotActive signals a state change attempted on a trigger that is no
	// longer ACTIVE. Terminal states are immutable.
	ErrNotActive = errors.New("trigger: trigger is not active")

	// ErrNotPending signals a finalisation attempted on an execution that was
	// already finalised.
	ErrNotPending = errors.New("trigger: execution is not pending")

	// ErrNotFound signals a lookup for an unknown trigger.
	ErrNotFound = errors.New("trigger: not found")
)

// Store is the persistence contract the engine drives. Implementations must
// make TryClaimExecution atomic: the insert succeeds only while the trigger is
// ACTIVE and has no other PENDING execution.
type Store interface {
	// ListActive returns every trigger eligible for evaluation.
	ListActive(ctx context.Context) ([]Trigger, error)

	// TryClaimExecution persists exec with status PENDING, or fails with
	// ErrClaimConflict / ErrNotActive without side effects.
	TryClaimExecution(ctx context.Context, exec Execution) (Execution, error)

	// FinalizeExecution moves a PENDING execution to SUCCESS or FAILED.
	FinalizeExecution(ctx context.Context, executionID string, status ExecStatus, txRef, errorDetail string) error

	// SetTriggerStatus transitions an ACTIVE trigger to the given status.
	SetTriggerStatus(ctx context.Context, triggerID string, status Status) error
}
