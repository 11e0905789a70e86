package process

// State is the lifecycle state of one managed process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// validTransitions encodes the state machine:
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//	Running -> Crashed (watchdog- or exit-detected)
//	Crashed -> Starting (restart), Crashed -> Stopped (operator delete)
//
// Starting and Stopping are never terminal; a failed start rolls back to
// Stopped.
var validTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped},
	StateCrashed:  {StateStarting, StateStopped},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state permits a new start attempt.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCrashed
}

func (s State) String() string { return string(s) }
