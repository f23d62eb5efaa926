package scheduler

import "context"

// Scheduler drives the workflow: it drains job events and control
// commands, advances the task pool and dispatches runnable instances.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until the workflow
	// finishes, a stop is requested, or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error
}

// CommandKind identifies a control mutation.
type CommandKind string

const (
	CmdHold            CommandKind = "hold"
	CmdRelease         CommandKind = "release"
	CmdTrigger         CommandKind = "trigger"
	CmdBroadcastSet    CommandKind = "broadcast-set"
	CmdBroadcastCancel CommandKind = "broadcast-cancel"
	CmdBroadcastClear  CommandKind = "broadcast-clear"
	CmdStopTask        CommandKind = "stop-task"
	CmdReload          CommandKind = "reload"
	CmdShutdown        CommandKind = "shutdown"
)

// CommandResult reports what a command changed.
type CommandResult struct {
	Count int
	Err   error
}

// Command is one queued control mutation. Commands are applied only at
// the start of a tick, never while the pool is being evaluated. Name and
// Point are match patterns (glob name, "*" or exact point); for broadcast
// commands they are the broadcast patterns. Reply, when non-nil, must be
// buffered; it receives exactly one result.
type Command struct {
	Kind   CommandKind
	Name   string
	Point  string
	Script string
	Env    map[string]string
	Reply  chan CommandResult
}

// TaskStatus is one pool entry in a published status snapshot.
type TaskStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Point     string `json:"point"`
	State     string `json:"state"`
	Held      bool   `json:"held,omitempty"`
	SubmitNum int    `json:"submitNum,omitempty"`
}

// Status is the read-only view the control API serves. A fresh snapshot
// is published after every tick.
type Status struct {
	Workflow   string       `json:"workflow"`
	Stopping   bool         `json:"stopping"`
	Stalled    bool         `json:"stalled"`
	Done       bool         `json:"done"`
	Tasks      []TaskStatus `json:"tasks"`
	Incomplete []string     `json:"incomplete,omitempty"`
}
