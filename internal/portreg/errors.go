package portreg

import (
	"fmt"

	"github.com/google/uuid"
)

// ConflictError reports a port already assigned to another process.
type ConflictError struct {
	Port  uint16
	Owner uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("port %d is already in use by process %s", e.Port, e.Owner)
}

// UnavailableError reports a port that failed the OS bind probe.
type UnavailableError struct {
	Port uint16
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("port %d is not available on the system", e.Port)
}

// NotEnoughPortsError reports an exhausted scan in FindAvailable.
type NotEnoughPortsError struct {
	Start uint16
	Count int
	Found int
}

func (e *NotEnoughPortsError) Error() string {
	return fmt.Sprintf("could not find %d available ports starting from %d (found %d)", e.Count, e.Start, e.Found)
}

// StalePortError reports an owned port that is no longer bindable, meaning
// something outside the registry has taken it.
type StalePortError struct {
	Port  uint16
	Owner uuid.UUID
}

func (e *StalePortError) Error() string {
	return fmt.Sprintf("port %d is no longer available for process %s", e.Port, e.Owner)
}
