package pool

import (
	"github.com/me/cyflow/pkg/cycling"
)

// runaheadBase is the point the active window is measured from: the
// minimum point over live proxies, falling back to the spawn frontier,
// then the initial point.
func (p *Pool) runaheadBase() cycling.Point {
	var base cycling.Point
	for _, pr := range p.proxies {
		if pr.State.IsTerminal() {
			continue
		}
		if base.IsZero() || pr.Point.Less(base) {
			base = pr.Point
		}
	}
	if !base.IsZero() {
		return base
	}
	for _, pt := range p.cursors {
		if base.IsZero() || pt.Less(base) {
			base = pt
		}
	}
	for _, sats := range p.parked {
		if pt, err := cycling.ParsePoint(p.kind, sats[0].Point); err == nil {
			if base.IsZero() || pt.Less(base) {
				base = pt
			}
		}
	}
	if base.IsZero() {
		return p.initial
	}
	return base
}

// withinWindow reports whether a point may hold active instances. The
// window runs from the runahead base to base plus the limit: a count of
// points across all recurrence sequences, or a fixed interval.
func (p *Pool) withinWindow(pt cycling.Point) bool {
	if p.final != nil && p.final.Less(pt) {
		return false
	}
	base := p.runaheadBase()
	if pt.Compare(base) <= 0 {
		return true
	}
	if p.limit.IsCount() {
		cur := base
		for i := int64(0); i < p.limit.Count; i++ {
			next, ok := p.unionNext(cur)
			if !ok {
				return true
			}
			cur = next
			if pt.Compare(cur) <= 0 {
				return true
			}
		}
		return false
	}
	edge, err := base.Add(p.limit.Interval)
	if err != nil {
		return true
	}
	return pt.Compare(edge) <= 0
}

// unionNext returns the earliest point after pt on any recurrence.
func (p *Pool) unionNext(pt cycling.Point) (cycling.Point, bool) {
	var best cycling.Point
	for _, d := range p.defs {
		for _, r := range d.Runs {
			if next, ok := r.Sequence.NextPoint(pt); ok {
				if best.IsZero() || next.Less(best) {
					best = next
				}
			}
		}
	}
	return best, !best.IsZero()
}
