package pool

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/internal/store"
	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/task"
)

func splitCursorKey(k string) (string, int, error) {
	i := strings.LastIndex(k, "/")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed cursor key %q", k)
	}
	idx, err := strconv.Atoi(k[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed cursor key %q", k)
	}
	return k[:i], idx, nil
}

// matches reports whether a proxy is selected by a name glob and a point
// pattern ("*" or an exact canonical point).
func (p *Pool) matches(pr *task.Proxy, namePat, pointPat string) bool {
	if pointPat != "*" && pointPat != pr.Point.String() {
		return false
	}
	ok, err := path.Match(namePat, pr.Def.Name)
	return err == nil && ok
}

// Hold marks matching non-terminal proxies held and returns how many
// changed. Holding a held proxy is a no-op.
func (p *Pool) Hold(namePat, pointPat string) int {
	n := 0
	for _, pr := range p.proxies {
		if pr.State.IsTerminal() || pr.Held || !p.matches(pr, namePat, pointPat) {
			continue
		}
		pr.Held = true
		n++
	}
	return n
}

// Release clears the held flag on matching proxies.
func (p *Pool) Release(namePat, pointPat string) int {
	n := 0
	for _, pr := range p.proxies {
		if !pr.Held || !p.matches(pr, namePat, pointPat) {
			continue
		}
		pr.Held = false
		n++
	}
	return n
}

// Trigger force-satisfies the prerequisites and xtriggers of matching
// waiting proxies, making them runnable regardless of upstream state.
// The triggered proxies are returned so the scheduler can latch their
// xtrigger satisfactions into the registry for checkpointing.
func (p *Pool) Trigger(namePat, pointPat string) []*task.Proxy {
	var out []*task.Proxy
	for _, pr := range p.proxies {
		if pr.State != task.StateWaiting || !p.matches(pr, namePat, pointPat) {
			continue
		}
		pr.ForceTrigger()
		out = append(out, pr)
	}
	return out
}

// SetStopTask designates the instance after which the scheduler shuts
// down. The designation survives restarts.
func (p *Pool) SetStopTask(name string, pt cycling.Point) {
	p.stopTask = task.ProxyID(name, pt)
}

// ClearStopTask removes the stop designation.
func (p *Pool) ClearStopTask() {
	p.stopTask = ""
}

// StopTask returns the current stop designation, if any.
func (p *Pool) StopTask() (string, bool) {
	return p.stopTask, p.stopTask != ""
}

// StopReached reports whether the designated stop task has finished.
func (p *Pool) StopReached() bool {
	if p.stopTask == "" {
		return false
	}
	pr := p.proxies[p.stopTask]
	return pr != nil && pr.State.IsTerminal()
}

// Snapshot serialises the pool for a checkpoint: one row per proxy plus
// the pool-level parameters (stop designation, parked satisfactions and
// spawn cursors).
func (p *Pool) Snapshot() ([]store.TaskRow, map[string]string, error) {
	rows := make([]store.TaskRow, 0, len(p.proxies))
	for _, pr := range p.Proxies() {
		var prereqs []string
		for k := range pr.SatisfiedPrereqKeys() {
			prereqs = append(prereqs, k)
		}
		sort.Strings(prereqs)
		rows = append(rows, store.TaskRow{
			Cycle:     pr.Point.String(),
			Name:      pr.Def.Name,
			State:     string(pr.State),
			Held:      pr.Held,
			SubmitNum: pr.SubmitNum,
			TryNum:    pr.RetriesUsed(),
			Outputs:   pr.Outputs.Emitted(),
			Prereqs:   prereqs,
		})
	}

	params := make(map[string]string)
	if p.stopTask != "" {
		params["stop_task"] = p.stopTask
	}
	if len(p.parked) > 0 {
		var all []parkedSat
		for _, sats := range p.parked {
			all = append(all, sats...)
		}
		b, err := json.Marshal(all)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal parked: %w", err)
		}
		params["parked"] = string(b)
	}
	if len(p.cursors) > 0 {
		cur := make(map[string]string, len(p.cursors))
		for k, pt := range p.cursors {
			cur[fmt.Sprintf("%s/%d", k.def, k.run)] = pt.String()
		}
		b, err := json.Marshal(cur)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal cursors: %w", err)
		}
		params["cursors"] = string(b)
	}
	return rows, params, nil
}

// Reload swaps in a recompiled workflow definition while the pool is
// live. Existing proxies are re-pointed at the new defs so script, env
// and retry changes apply from their next submission; instances of tasks
// dropped from the definition keep their old def and run out. Spawn
// cursors carry over where a parentless run's recurrence is unchanged
// and are seeded at the window base for runs the reload introduced.
func (p *Pool) Reload(wf *config.Workflow) error {
	if wf.Kind != p.kind {
		return fmt.Errorf("reload: cycling kind changed from %s to %s", p.kind, wf.Kind)
	}
	if wf.InitialCycle != p.initial {
		return fmt.Errorf("reload: initial cycle changed from %s to %s", p.initial, wf.InitialCycle)
	}

	old := p.defs
	p.defs = wf.Defs
	p.final = wf.FinalCycle
	p.limit = wf.Runahead
	p.parents = make(map[string][]edge)
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

	for _, pr := range p.proxies {
		if d, ok := wf.Defs[pr.Def.Name]; ok {
			pr.Def = d
		} else {
			p.logger.Warn("task dropped by reload, live instance retained", "task", pr.ID())
		}
	}
	for id, sats := range p.parked {
		if _, ok := wf.Defs[sats[0].Child]; !ok {
			p.logger.Warn("parked satisfactions dropped by reload", "task", id)
			delete(p.parked, id)
		}
	}

	cursors := make(map[cursorKey]cycling.Point)
	for name, d := range wf.Defs {
		for i, r := range d.Runs {
			if len(r.Exprs) > 0 {
				continue
			}
			// A run that survives the reload with the same recurrence
			// keeps its cursor, including an exhausted (absent) one.
			carried := false
			if od, ok := old[name]; ok {
				for j, or := range od.Runs {
					if len(or.Exprs) == 0 && or.Sequence.Equal(r.Sequence) {
						if pt, ok := p.cursors[cursorKey{name, j}]; ok {
							cursors[cursorKey{name, i}] = pt
						}
						carried = true
						break
					}
				}
			}
			if carried {
				continue
			}
			// A run the reload introduced starts at the window base, not
			// at history it never had.
			pt, ok := r.Sequence.FirstPoint()
			if !ok {
				continue
			}
			base := p.runaheadBase()
			for pt.Less(base) {
				next, ok := r.Sequence.NextPoint(pt)
				if !ok {
					pt = cycling.Point{}
					break
				}
				pt = next
			}
			if !pt.IsZero() {
				cursors[cursorKey{name, i}] = pt
			}
		}
	}
	p.cursors = cursors
	return nil
}

// Restore rebuilds the pool from a checkpoint. Instances that were queued
// or dispatched at checkpoint time return to waiting so the scheduler
// resubmits them; their jobs did not survive the shutdown.
func (p *Pool) Restore(rows []store.TaskRow, params map[string]string) error {
	p.proxies = make(map[string]*task.Proxy)
	p.parked = make(map[string][]parkedSat)
	p.cursors = make(map[cursorKey]cycling.Point)
	p.pending = nil

	for _, row := range rows {
		d, ok := p.defs[row.Name]
		if !ok {
			return fmt.Errorf("restore: unknown task %q", row.Name)
		}
		pt, err := cycling.ParsePoint(p.kind, row.Cycle)
		if err != nil {
			return fmt.Errorf("restore %s: %w", row.Name, err)
		}
		pr, err := p.spawn(d, pt)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}

		st := task.State(row.State)
		switch st {
		case task.StateQueued, task.StateSubmitted, task.StateRunning:
			st = task.StateWaiting
		}
		pr.State = st
		pr.Held = row.Held
		pr.SubmitNum = row.SubmitNum
		pr.RestoreRetries(row.TryNum)
		pr.Outputs.Restore(row.Outputs)

		keys := make(map[string]bool, len(row.Prereqs))
		for _, k := range row.Prereqs {
			keys[k] = true
		}
		pr.RestorePrereqs(keys)
	}

	if v, ok := params["stop_task"]; ok {
		p.stopTask = v
	}
	if v, ok := params["parked"]; ok {
		var all []parkedSat
		if err := json.Unmarshal([]byte(v), &all); err != nil {
			return fmt.Errorf("restore parked: %w", err)
		}
		for _, s := range all {
			p.parked[s.Child+"."+s.Point] = append(p.parked[s.Child+"."+s.Point], s)
		}
	}
	if v, ok := params["cursors"]; ok {
		raw := make(map[string]string)
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return fmt.Errorf("restore cursors: %w", err)
		}
		for k, ps := range raw {
			name, idx, err := splitCursorKey(k)
			if err != nil {
				return fmt.Errorf("restore cursor %s: %w", k, err)
			}
			pt, err := cycling.ParsePoint(p.kind, ps)
			if err != nil {
				return fmt.Errorf("restore cursor %s: %w", k, err)
			}
			p.cursors[cursorKey{name, idx}] = pt
		}
	}
	return nil
}
