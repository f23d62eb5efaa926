package jobs

import (
	"context"

	"github.com/me/cyflow/pkg/task"
)

// SimRunner is a deterministic in-process Runner for tests: each task id
// carries a scripted list of attempt outcomes, consumed one per
// submission. Events are delivered synchronously into the channel, which
// must be buffered generously enough for a tick's submissions.
type SimRunner struct {
	events   chan<- Event
	outcomes map[string][]EventKind
	attempts map[string]int
	// Messages are custom outputs emitted before a successful completion.
	messages map[string][]string
	// Requests records every submission, in order.
	Requests []Request
}

// NewSimRunner builds a simulator. outcomes maps "name.point" to the
// outcome of each successive submission (EventSucceeded, EventFailed or
// EventSubmitFailed); ids without an entry succeed.
func NewSimRunner(events chan<- Event, outcomes map[string][]EventKind) *SimRunner {
	return &SimRunner{
		events:   events,
		outcomes: outcomes,
		attempts: make(map[string]int),
		messages: make(map[string][]string),
	}
}

// EmitMessages schedules custom output messages for every successful run
// of the given task id.
func (r *SimRunner) EmitMessages(id string, outputs ...string) {
	r.messages[id] = outputs
}

// Attempts returns how many times the id was submitted.
func (r *SimRunner) Attempts(id string) int {
	return r.attempts[id]
}

// Submit delivers the scripted lifecycle immediately.
func (r *SimRunner) Submit(ctx context.Context, req Request) error {
	id := task.ProxyID(req.Task, req.Point)
	n := r.attempts[id]
	r.attempts[id] = n + 1
	r.Requests = append(r.Requests, req)

	outcome := EventSucceeded
	if seq := r.outcomes[id]; n < len(seq) {
		outcome = seq[n]
	}

	emit := func(kind EventKind, msg string) {
		r.events <- Event{Task: req.Task, Point: req.Point, SubmitNum: req.SubmitNum, Kind: kind, Message: msg}
	}
	if outcome == EventSubmitFailed {
		emit(EventSubmitFailed, "")
		return nil
	}
	emit(EventSubmitted, "")
	emit(EventStarted, "")
	if outcome == EventSucceeded {
		for _, m := range r.messages[id] {
			emit(EventMessage, m)
		}
	}
	emit(outcome, "")
	return nil
}
