package store

import (
	"context"
	"time"

	"github.com/me/cyflow/internal/broadcast"
)

// TaskRow is the persisted form of one pool proxy.
type TaskRow struct {
	Cycle     string
	Name      string
	State     string
	Held      bool
	SubmitNum int
	TryNum    int
	Outputs   []string // emitted output names
	Prereqs   []string // satisfied prerequisite condition keys
}

// Checkpoint is one full snapshot of scheduler state: the task pool,
// broadcasts, satisfied xtriggers and workflow parameters (stop
// designations and the like).
type Checkpoint struct {
	ID         string
	Time       time.Time
	Event      string
	Tasks      []TaskRow
	Broadcasts []broadcast.Item
	Xtriggers  []string
	Params     map[string]string
}

// CheckpointInfo describes a stored checkpoint without its payload.
type CheckpointInfo struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Tasks int       `json:"tasks"`
}

// Store defines the persistence layer for scheduler checkpoints. Restart
// always resumes from the latest checkpoint.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LoadLatest(ctx context.Context) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error)

	Close() error
	Migrate(ctx context.Context) error
}
