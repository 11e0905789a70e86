package process

import (
	"fmt"

	"github.com/google/uuid"
)

// SpawnError reports a failed OS-level spawn. The underlying OS error is
// preserved for the caller; spawn failures are never retried automatically.
type SpawnError struct {
	ID   uuid.UUID
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.ID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// StopError reports a stop path failure beyond the expected
// timeout-then-kill escalation (for example, the process was already gone in
// an inconsistent state).
type StopError struct {
	ID   uuid.UUID
	Step string
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s at %s: %v", e.ID, e.Step, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }

// RestartError reports a failed or refused restart.
type RestartError struct {
	ID       uuid.UUID
	Attempts int
	Max      int
	Err      error
}

func (e *RestartError) Error() string {
	if e.Attempts >= e.Max && e.Max > 0 {
		return fmt.Sprintf("restart %s: attempt cap reached (%d/%d)", e.ID, e.Attempts, e.Max)
	}
	return fmt.Sprintf("restart %s: %v", e.ID, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a lifecycle call that is illegal in the
// process's current state.
type InvalidTransitionError struct {
	ID   uuid.UUID
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("process %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}
