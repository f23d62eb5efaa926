package task

import (
	"fmt"
	"time"

	"github.com/me/cyflow/pkg/cycling"
)

// Proxy is one live instance of a Def at a specific cycle point. Proxies
// are created and owned by the task pool; all mutation happens on the
// scheduler's evaluation goroutine.
type Proxy struct {
	Def   *Def
	Point cycling.Point

	State State
	Held  bool

	// SubmitNum counts submissions handed to the job runner; events carrying
	// a stale submit number are discarded. TryNum counts execution attempts
	// under the retry policy.
	SubmitNum int
	TryNum    int

	Prereqs   []*Prerequisite
	Xtriggers map[string]bool // xtrigger name -> satisfied
	Outputs   *Outputs

	// RetryAt is the earliest wall-clock time a retrying proxy may requeue;
	// zero when no retry is pending.
	RetryAt    time.Time
	retryIndex int

	// Dispatched marks the current SubmitNum as handed to the runner, so a
	// queued proxy is not resubmitted every tick. Not persisted: after a
	// restart a queued proxy is simply dispatched again.
	Dispatched bool
}

// ProxyID returns the canonical "name.point" instance identifier.
func ProxyID(name string, point cycling.Point) string {
	return fmt.Sprintf("%s.%s", name, point)
}

// NewProxy instantiates def at the given point, merging the prerequisite
// and output relationships of every sequence the point lies on.
// workflowStart standardises pre-start dependence: prerequisite atoms
// resolving before it are born satisfied.
func NewProxy(def *Def, point, workflowStart cycling.Point) (*Proxy, error) {
	runs := def.RunsAt(point)
	if len(runs) == 0 {
		return nil, fmt.Errorf("task %s is not active at point %s", def.Name, point)
	}

	declared := make(map[string]bool)
	xtriggers := make(map[string]bool)
	var prereqs []*Prerequisite
	for _, r := range runs {
		for name, required := range r.Outputs {
			declared[name] = declared[name] || required
		}
		for _, x := range r.Xtriggers {
			if _, ok := xtriggers[x]; !ok {
				xtriggers[x] = false
			}
		}
		for _, e := range r.Exprs {
			pr, err := NewPrerequisite(e, point, workflowStart)
			if err != nil {
				return nil, fmt.Errorf("instantiate %s at %s: %w", def.Name, point, err)
			}
			prereqs = append(prereqs, pr)
		}
	}

	return &Proxy{
		Def:       def,
		Point:     point,
		State:     StateWaiting,
		Prereqs:   prereqs,
		Xtriggers: xtriggers,
		Outputs:   NewOutputs(declared),
	}, nil
}

// ID returns the proxy's "name.point" identifier.
func (p *Proxy) ID() string {
	return ProxyID(p.Def.Name, p.Point)
}

// SetState applies a validated state transition.
func (p *Proxy) SetState(next State) error {
	if !p.State.CanTransitionTo(next) {
		return &InvalidTransitionError{ID: p.ID(), From: p.State, To: next}
	}
	p.State = next
	return nil
}

// PrereqsSatisfied reports whether every prerequisite expression holds.
func (p *Proxy) PrereqsSatisfied() bool {
	for _, pr := range p.Prereqs {
		if !pr.IsSatisfied() {
			return false
		}
	}
	return true
}

// XtriggersSatisfied reports whether every xtrigger has fired.
func (p *Proxy) XtriggersSatisfied() bool {
	for _, ok := range p.Xtriggers {
		if !ok {
			return false
		}
	}
	return true
}

// IsRunnable reports whether the proxy may leave waiting now: not held, all
// prerequisites and xtriggers satisfied, and any retry backoff elapsed.
func (p *Proxy) IsRunnable(now time.Time) bool {
	if p.State != StateWaiting || p.Held {
		return false
	}
	if !p.RetryAt.IsZero() && now.Before(p.RetryAt) {
		return false
	}
	return p.PrereqsSatisfied() && p.XtriggersSatisfied()
}

// Retry consumes the next retry delay after a failed or submit-failed
// attempt and moves the proxy back to waiting. It returns false when the
// retry budget is exhausted, leaving the terminal state in place.
func (p *Proxy) Retry(now time.Time) bool {
	if p.retryIndex >= len(p.Def.RetryDelays) {
		return false
	}
	delay := p.Def.RetryDelays[p.retryIndex]
	if err := p.SetState(StateWaiting); err != nil {
		return false
	}
	p.retryIndex++
	p.RetryAt = now.Add(delay)
	p.Dispatched = false
	return true
}

// RetriesUsed returns how many retry delays have been consumed.
func (p *Proxy) RetriesUsed() int {
	return p.retryIndex
}

// RestoreRetries reinstates retry bookkeeping from a checkpoint.
func (p *Proxy) RestoreRetries(used int) {
	if used > len(p.Def.RetryDelays) {
		used = len(p.Def.RetryDelays)
	}
	p.retryIndex = used
}

// ForceTrigger satisfies every prerequisite and xtrigger and clears any
// retry backoff, making a waiting proxy immediately runnable.
func (p *Proxy) ForceTrigger() {
	for _, pr := range p.Prereqs {
		pr.SatisfyAll()
	}
	for x := range p.Xtriggers {
		p.Xtriggers[x] = true
	}
	p.RetryAt = time.Time{}
}

// Complete reports whether the proxy's required outputs are all emitted or
// excused. See Outputs.IsComplete for the excusal rules.
func (p *Proxy) Complete() bool {
	return p.Outputs.IsComplete()
}

// SatisfiedPrereqKeys returns the satisfied atom keys across all
// prerequisites, for persistence.
func (p *Proxy) SatisfiedPrereqKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, pr := range p.Prereqs {
		for _, c := range pr.Conditions() {
			if c.Satisfied {
				keys[c.Key()] = true
			}
		}
	}
	return keys
}

// RestorePrereqs replays persisted satisfaction bits.
func (p *Proxy) RestorePrereqs(keys map[string]bool) {
	for _, pr := range p.Prereqs {
		pr.RestoreSatisfied(keys)
	}
}
