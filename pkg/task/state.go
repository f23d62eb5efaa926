// Package task defines task templates (Def), live task instances (Proxy),
// and the per-instance state machine, prerequisite and output tracking that
// drive dependency satisfaction through a cycling workflow.
package task

import "fmt"

// State is the lifecycle state of a task Proxy. "held" is a flag on the
// Proxy, not a state: a held task keeps its state but cannot leave waiting.
type State string

const (
	StateWaiting      State = "waiting"
	StateQueued       State = "queued"
	StateSubmitted    State = "submitted"
	StateRunning      State = "running"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
	StateSubmitFailed State = "submit-failed"
	StateExpired      State = "expired"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether the state is final. Failed and submit-failed
// are only terminal once the retry budget is exhausted; the retry policy
// moves a retrying proxy back to waiting before the state is observed as
// terminal by the pool.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSubmitFailed, StateExpired:
		return true
	}
	return false
}

// ValidTransitions defines the allowed state transitions.
var ValidTransitions = map[State][]State{
	StateWaiting:      {StateQueued, StateExpired},
	StateQueued:       {StateSubmitted, StateSubmitFailed, StateWaiting},
	StateSubmitted:    {StateRunning, StateSucceeded, StateFailed},
	StateRunning:      {StateSucceeded, StateFailed},
	StateFailed:       {StateWaiting},
	StateSubmitFailed: {StateWaiting},
}

// CanTransitionTo reports whether moving from s to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a state transition is not allowed.
type InvalidTransitionError struct {
	ID   string
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s for task %s", e.From, e.To, e.ID)
}
