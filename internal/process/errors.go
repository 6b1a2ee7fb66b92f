package process

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the process state machine and store.
var (
	// ErrAlreadyStarted: a project already has an evaluation process.
	ErrAlreadyStarted = errors.New("evaluation process already started for project")
	// ErrNotFound: the requested process or round does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRoundLimitExceeded: opening a third clarification round requires an
	// explicit override.
	ErrRoundLimitExceeded = errors.New("clarification round limit exceeded")
	// ErrVersionConflict: optimistic-lock conflict; the caller must re-read
	// and retry.
	ErrVersionConflict = errors.New("concurrent modification: version conflict")
)

// InvalidTransitionError reports an operation that is illegal in the
// process's current state. Never silently recovered.
type InvalidTransitionError struct {
	ProcessID uuid.UUID
	State     State
	Op        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: operation %q not allowed in state %q (process %s)",
		e.Op, e.State, e.ProcessID)
}

// CrossProcessReferenceError reports a referenced round or item that belongs
// to a different process.
type CrossProcessReferenceError struct {
	ProcessID uuid.UUID
	Ref       string
}

func (e *CrossProcessReferenceError) Error() string {
	return fmt.Sprintf("cross-process reference: %s does not belong to process %s", e.Ref, e.ProcessID)
}

// ValidationError reports malformed caller input (unknown enum value,
// missing field) before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
