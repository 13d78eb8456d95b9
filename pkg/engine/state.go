package engine

import "slices"

// State is the lifecycle position of an [Engine].
type State string

const (
	// StateCreated is the state of an engine returned by [New].
	StateCreated  State = "created"
	StateStarting State = "starting"

	// StateRunning is the only state in which [Engine.Health] can pass.
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"

	// StateFailed is entered when a start or stop hook fails.
	StateFailed State = "failed"
)

// String returns the state name.
func (s State) String() string { return string(s) }

// IsTerminal reports whether s is stopped or failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Transition matrix:
//
//	Created  → Starting, Stopping, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//
// Stopped and Failed are final: an engine owns connections closed on stop,
// so restarting means building a new one.
var validTransitions = map[State][]State{
	StateCreated:  {StateStarting, StateStopping, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
}

// ValidTransition reports whether from may move to to.
func ValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}
