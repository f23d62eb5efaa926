package task

import (
	"time"

	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/graph"
)

// Run binds a Def to one recurrence sequence with the trigger relationships
// compiled from that sequence's graph string.
type Run struct {
	Sequence  *cycling.Sequence
	Exprs     []*graph.Expr
	Xtriggers []string
	Outputs   map[string]bool // output name -> required
}

// HasPrereqs reports whether the run gates its instances on anything. A run
// with no prerequisites and no xtriggers is a start-of-sequence run: its
// instances are spawned as soon as their point is reachable.
func (r *Run) HasPrereqs() bool {
	return len(r.Exprs) > 0 || len(r.Xtriggers) > 0
}

// Def is the immutable template for one named task across all cycle points.
type Def struct {
	Name string

	// Script is handed to the job runner verbatim.
	Script string

	// Env is the static environment given to every job of this task.
	Env map[string]string

	// RetryDelays is the backoff schedule applied after failed or
	// submit-failed attempts; its length is the retry budget.
	RetryDelays []time.Duration

	// ClockExpire, when non-nil, expires a still-waiting instance once wall
	// clock time passes its cycle point plus this offset. Gregorian
	// workflows only.
	ClockExpire *time.Duration

	// CustomOutputs maps declared message-output names to message text.
	CustomOutputs map[string]string

	Runs []*Run
}

// RunsAt returns the runs whose sequence contains the point. A task active
// on several sequences merges all their relationships at a shared point.
func (d *Def) RunsAt(p cycling.Point) []*Run {
	var out []*Run
	for _, r := range d.Runs {
		if r.Sequence.IsOn(p) {
			out = append(out, r)
		}
	}
	return out
}
