// Package pool manages the active window of task instances. Proxies enter
// the pool when their cycle point comes within the runahead window and a
// parent output references them (or immediately, for tasks with no
// upstream triggers), and leave once they are terminal, complete and no
// longer referenced by any unsatisfied prerequisite.
package pool

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/graph"
	"github.com/me/cyflow/pkg/task"
)

// edge is one compiled dependency arc: when parent emits output, the child
// instance at (parent point - offset) on run's sequence is affected.
type edge struct {
	child  *task.Def
	run    *task.Run
	offset cycling.Interval
	output string
}

// emission is one queued output event awaiting propagation.
type emission struct {
	task   string
	point  cycling.Point
	output string
}

// parkedSat records a satisfaction aimed at a child beyond the runahead
// window; it is replayed when the window advances far enough to spawn the
// child.
type parkedSat struct {
	Child  string `json:"child"`
	Point  string `json:"point"`
	Task   string `json:"task"`
	From   string `json:"from"`
	Output string `json:"output"`
}

// cursorKey identifies one parentless run's spawn cursor.
type cursorKey struct {
	def string
	run int
}

// Pool is the task pool. It is not safe for concurrent use; the scheduler
// loop is its only caller.
type Pool struct {
	kind    cycling.Kind
	initial cycling.Point
	final   *cycling.Point
	limit   config.Runahead
	defs    map[string]*task.Def
	logger  *slog.Logger

	proxies map[string]*task.Proxy
	parents map[string][]edge // parent task name -> outgoing arcs

	pending []emission
	parked  map[string][]parkedSat
	// cursors holds the next unspawned point of each parentless run; a
	// missing key means the run is exhausted.
	cursors map[cursorKey]cycling.Point

	stopTask   string
	lastChange time.Time
}

// New builds a pool over the compiled workflow. Call SpawnInitial before
// the first tick on a cold start; Restore replaces it on restart.
func New(wf *config.Workflow, logger *slog.Logger) *Pool {
	p := &Pool{
		kind:    wf.Kind,
		initial: wf.InitialCycle,
		final:   wf.FinalCycle,
		limit:   wf.Runahead,
		defs:    wf.Defs,
		logger:  logger.With("component", "pool"),
		proxies: make(map[string]*task.Proxy),
		parents: make(map[string][]edge),
		parked:  make(map[string][]parkedSat),
		cursors: make(map[cursorKey]cycling.Point),
	}
	for _, d := range wf.Defs {
		for _, r := range d.Runs {
			for _, e := range r.Exprs {
				for _, tr := range e.Triggers() {
					p.parents[tr.Task] = append(p.parents[tr.Task], edge{
						child:  d,
						run:    r,
						offset: tr.Offset,
						output: tr.Output,
					})
				}
			}
		}
	}
	return p
}

// SpawnInitial seeds the pool: every parentless run gets a cursor at its
// first point, and instances are spawned up to the runahead window.
func (p *Pool) SpawnInitial() error {
	for name, d := range p.defs {
		for i, r := range d.Runs {
			if len(r.Exprs) > 0 {
				continue
			}
			if first, ok := r.Sequence.FirstPoint(); ok {
				p.cursors[cursorKey{name, i}] = first
			}
		}
	}
	return p.spawnParentless()
}

// Get returns the proxy with the given id, or nil.
func (p *Pool) Get(id string) *task.Proxy {
	return p.proxies[id]
}

// Proxies returns the pool contents ordered by point then name.
func (p *Pool) Proxies() []*task.Proxy {
	out := make([]*task.Proxy, 0, len(p.proxies))
	for _, pr := range p.proxies {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Point.Compare(out[j].Point); c != 0 {
			return c < 0
		}
		return out[i].Def.Name < out[j].Def.Name
	})
	return out
}

// Len returns the number of pooled proxies.
func (p *Pool) Len() int { return len(p.proxies) }

// stateOutput maps a state transition to the standard output it emits.
var stateOutput = map[task.State]string{
	task.StateSubmitted:    graph.OutputSubmitted,
	task.StateRunning:      graph.OutputStarted,
	task.StateSucceeded:    graph.OutputSucceeded,
	task.StateFailed:       graph.OutputFailed,
	task.StateSubmitFailed: graph.OutputSubmitFailed,
	task.StateExpired:      graph.OutputExpired,
}

// Transition moves a proxy to a new state and queues the output the new
// state implies. Call Settle afterwards to propagate.
func (p *Pool) Transition(pr *task.Proxy, to task.State, now time.Time) error {
	if err := pr.SetState(to); err != nil {
		return err
	}
	p.lastChange = now
	p.logger.Debug("state", "task", pr.ID(), "state", to)
	if out, ok := stateOutput[to]; ok {
		p.Emit(pr.Def.Name, pr.Point, out)
	}
	return nil
}

// Touch records out-of-band activity (retries, restored state) for stall
// detection.
func (p *Pool) Touch(now time.Time) {
	p.lastChange = now
}

// Emit queues one output emission for propagation by Settle. Emitting an
// already-emitted output is a no-op at settle time.
func (p *Pool) Emit(name string, point cycling.Point, output string) {
	p.pending = append(p.pending, emission{task: name, point: point, output: output})
}

// Settle drains the emission work-list to a fixed point: each emission is
// recorded on its own proxy (with implied outputs) and propagated to every
// dependent instance, spawning or parking children as needed.
func (p *Pool) Settle() error {
	for len(p.pending) > 0 {
		e := p.pending[0]
		p.pending = p.pending[1:]

		if pr := p.proxies[task.ProxyID(e.task, e.point)]; pr != nil {
			// Propagate exactly the outputs newly recorded here, implied
			// ones included. A replayed emission records nothing and is
			// dropped, which keeps downstream spawning exactly-once.
			for _, added := range pr.Outputs.Emit(e.output) {
				if err := p.propagate(emission{task: e.task, point: e.point, output: added}); err != nil {
					return err
				}
			}
			continue
		}
		if err := p.propagate(e); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) propagate(e emission) error {
	for _, arc := range p.parents[e.task] {
		if arc.output != e.output {
			continue
		}
		childPt, err := e.point.Sub(arc.offset)
		if err != nil {
			return fmt.Errorf("propagate %s.%s:%s: %w", e.task, e.point, e.output, err)
		}
		if !arc.run.Sequence.IsOn(childPt) || childPt.Less(p.initial) {
			continue
		}
		if p.final != nil && p.final.Less(childPt) {
			continue
		}

		id := task.ProxyID(arc.child.Name, childPt)
		child := p.proxies[id]
		if child == nil {
			if !p.withinWindow(childPt) {
				p.park(id, arc.child.Name, childPt, e)
				continue
			}
			child, err = p.spawn(arc.child, childPt)
			if err != nil {
				return err
			}
		}
		p.satisfy(child, e.task, e.point, e.output)
	}
	return nil
}

func (p *Pool) satisfy(pr *task.Proxy, parent string, point cycling.Point, output string) {
	for _, req := range pr.Prereqs {
		req.Satisfy(parent, point, output)
	}
}

func (p *Pool) park(id, child string, pt cycling.Point, e emission) {
	p.parked[id] = append(p.parked[id], parkedSat{
		Child:  child,
		Point:  pt.String(),
		Task:   e.task,
		From:   e.point.String(),
		Output: e.output,
	})
	p.logger.Debug("parked", "task", id, "on", e.task+"."+e.point.String()+":"+e.output)
}

func (p *Pool) spawn(d *task.Def, pt cycling.Point) (*task.Proxy, error) {
	pr, err := task.NewProxy(d, pt, p.initial)
	if err != nil {
		return nil, err
	}
	p.proxies[pr.ID()] = pr
	p.logger.Debug("spawn", "task", pr.ID())
	return pr, nil
}

// Update advances the pool after a settled tick: the runahead window is
// recomputed, parentless instances and parked children inside the window
// are spawned, expired proxies are retired and finished proxies removed.
func (p *Pool) Update(now time.Time) error {
	if err := p.expire(now); err != nil {
		return err
	}
	// Expiry may have emitted outputs; settle before removal so reference
	// checks see final satisfaction state.
	if err := p.Settle(); err != nil {
		return err
	}
	p.remove()
	// Removal advances the runahead base, so spawn after sweeping.
	if err := p.spawnParentless(); err != nil {
		return err
	}
	return p.replayParked()
}

func (p *Pool) spawnParentless() error {
	for key, pt := range p.cursors {
		d := p.defs[key.def]
		r := d.Runs[key.run]
		for {
			if p.final != nil && p.final.Less(pt) {
				delete(p.cursors, key)
				break
			}
			if !p.withinWindow(pt) {
				p.cursors[key] = pt
				break
			}
			if p.proxies[task.ProxyID(d.Name, pt)] == nil {
				if _, err := p.spawn(d, pt); err != nil {
					return err
				}
			}
			next, ok := r.Sequence.NextPoint(pt)
			if !ok {
				delete(p.cursors, key)
				break
			}
			pt = next
		}
	}
	return nil
}

func (p *Pool) replayParked() error {
	for id, sats := range p.parked {
		pt, err := cycling.ParsePoint(p.kind, sats[0].Point)
		if err != nil {
			return fmt.Errorf("parked point %q: %w", sats[0].Point, err)
		}
		if !p.withinWindow(pt) {
			continue
		}
		d := p.defs[sats[0].Child]
		child := p.proxies[id]
		if child == nil {
			child, err = p.spawn(d, pt)
			if err != nil {
				return err
			}
		}
		for _, s := range sats {
			from, err := cycling.ParsePoint(p.kind, s.From)
			if err != nil {
				return fmt.Errorf("parked origin %q: %w", s.From, err)
			}
			p.satisfy(child, s.Task, from, s.Output)
		}
		delete(p.parked, id)
	}
	return nil
}

func (p *Pool) expire(now time.Time) error {
	if p.kind != cycling.Gregorian {
		return nil
	}
	for _, pr := range p.proxies {
		exp := pr.Def.ClockExpire
		if exp == nil || pr.State != task.StateWaiting {
			continue
		}
		if now.Before(pr.Point.Time().Add(*exp)) {
			continue
		}
		if err := p.Transition(pr, task.StateExpired, now); err != nil {
			return err
		}
	}
	return nil
}

// remove sweeps out proxies that are terminal, complete, unreferenced and
// not the stop task.
func (p *Pool) remove() {
	for id, pr := range p.proxies {
		if !pr.State.IsTerminal() || !pr.Complete() {
			continue
		}
		if id == p.stopTask {
			continue
		}
		if p.referenced(pr) {
			continue
		}
		delete(p.proxies, id)
		p.logger.Debug("remove", "task", id)
	}
}

func (p *Pool) referenced(pr *task.Proxy) bool {
	for _, other := range p.proxies {
		if other == pr {
			continue
		}
		for _, req := range other.Prereqs {
			if req.References(pr.Def.Name, pr.Point) {
				return true
			}
		}
	}
	return false
}

// Runnable returns the waiting proxies eligible to queue now.
func (p *Pool) Runnable(now time.Time) []*task.Proxy {
	var out []*task.Proxy
	for _, pr := range p.Proxies() {
		if pr.IsRunnable(now) {
			out = append(out, pr)
		}
	}
	return out
}

// Incomplete returns the ids of finished-but-incomplete proxies: terminal
// states whose required outputs were not all emitted or excused.
func (p *Pool) Incomplete() []string {
	var out []string
	for _, pr := range p.Proxies() {
		if pr.State.IsTerminal() && !pr.Complete() {
			out = append(out, pr.ID())
		}
	}
	return out
}

// IsStalled reports whether the pool can make no further progress on its
// own: at least one live non-held proxy, nothing active or runnable, and
// no state change within the inactivity window.
func (p *Pool) IsStalled(now time.Time, window time.Duration) bool {
	live := false
	for _, pr := range p.proxies {
		switch pr.State {
		case task.StateQueued, task.StateSubmitted, task.StateRunning:
			return false
		}
		if pr.State.IsTerminal() {
			// An incomplete finished instance is retained because it
			// blocks completion; with nothing active it is a stall.
			if !pr.Outputs.IsComplete() {
				live = true
			}
			continue
		}
		if !pr.Held {
			live = true
			if pr.IsRunnable(now) {
				return false
			}
			// A pending retry is future activity, not a stall.
			if !pr.RetryAt.IsZero() && pr.RetryAt.After(now) {
				return false
			}
		}
	}
	if !live {
		return false
	}
	if !p.lastChange.IsZero() && now.Sub(p.lastChange) < window {
		return false
	}
	return true
}

// Done reports whether the workflow has run to completion: nothing pooled,
// nothing parked and no parentless instance left to spawn.
func (p *Pool) Done() bool {
	return len(p.proxies) == 0 && len(p.parked) == 0 && len(p.cursors) == 0 && len(p.pending) == 0
}
