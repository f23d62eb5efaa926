// Package jobs is the execution boundary: the scheduler hands a Runner
// fully-resolved submission requests and receives lifecycle events back on
// a channel. Nothing else crosses the boundary; the scheduler never
// inspects processes.
package jobs

import (
	"context"

	"github.com/me/cyflow/pkg/cycling"
)

// EventKind is a job lifecycle event type.
type EventKind string

const (
	EventSubmitted    EventKind = "submitted"
	EventSubmitFailed EventKind = "submit-failed"
	EventStarted      EventKind = "started"
	EventSucceeded    EventKind = "succeeded"
	EventFailed       EventKind = "failed"
	// EventMessage carries a custom output name in Message.
	EventMessage EventKind = "message"
)

// Event is one job lifecycle report. Task, Point and SubmitNum identify
// the submission; stale or replayed events are discarded by the scheduler
// on that key.
type Event struct {
	Task      string
	Point     cycling.Point
	SubmitNum int
	Kind      EventKind
	Message   string
}

// Request is one fully-resolved job submission: the script and environment
// already have broadcast overrides applied.
type Request struct {
	Task      string
	Point     cycling.Point
	SubmitNum int
	Script    string
	Env       map[string]string
}

// Runner submits jobs for execution. Submit must not block on job
// completion; results arrive as Events.
type Runner interface {
	Submit(ctx context.Context, req Request) error
}
