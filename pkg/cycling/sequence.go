package cycling

import (
	"fmt"
	"strings"
)

// Sequence is a recurrence rule: the ordered, possibly unbounded set of
// points reachable from an origin by integer multiples of a step, clipped to
// an inclusive [start, stop] window. The stop bound is optional.
//
// Sequences are immutable once constructed.
type Sequence struct {
	origin Point
	step   Interval
	start  Point
	stop   *Point
}

// NewSequence builds a sequence. The step must be strictly positive and all
// points must belong to the same calendar family.
func NewSequence(origin Point, step Interval, start Point, stop *Point) (*Sequence, error) {
	if step.IsNull() {
		return nil, &InvalidSequenceError{Reason: "null step"}
	}
	if step.IsNegative() {
		return nil, &InvalidSequenceError{Reason: "negative step"}
	}
	if origin.Kind() != step.Kind() || origin.Kind() != start.Kind() {
		return nil, &TypeMismatchError{Op: "build sequence over", A: origin.Kind(), B: step.Kind()}
	}
	if stop != nil {
		if stop.Kind() != origin.Kind() {
			return nil, &TypeMismatchError{Op: "build sequence over", A: origin.Kind(), B: stop.Kind()}
		}
		if stop.Less(start) {
			return nil, &InvalidSequenceError{Reason: fmt.Sprintf("stop %s before start %s", stop, start)}
		}
		s := *stop
		stop = &s
	}
	return &Sequence{origin: origin, step: step, start: start, stop: stop}, nil
}

// ParseSequence parses a sequence expression against a workflow context.
// Accepted forms, with parts separated by "/":
//
//	STEP              window [ctxStart, ctxStop], anchored at ctxStart
//	START/STEP        window [START, ctxStop], anchored at START
//	START/STEP/STOP   window [START, STOP], anchored at START
//
// ctxStop may be nil for an unbounded workflow.
func ParseSequence(kind Kind, expr string, ctxStart Point, ctxStop *Point) (*Sequence, error) {
	parts := strings.Split(strings.TrimSpace(expr), "/")
	var (
		origin = ctxStart
		stop   = ctxStop
		stepS  string
	)
	switch len(parts) {
	case 1:
		stepS = parts[0]
	case 2:
		p, err := ParsePoint(kind, parts[0])
		if err != nil {
			return nil, &InvalidSequenceError{Expr: expr, Reason: err.Error()}
		}
		origin = p
		stepS = parts[1]
	case 3:
		p, err := ParsePoint(kind, parts[0])
		if err != nil {
			return nil, &InvalidSequenceError{Expr: expr, Reason: err.Error()}
		}
		q, err := ParsePoint(kind, parts[2])
		if err != nil {
			return nil, &InvalidSequenceError{Expr: expr, Reason: err.Error()}
		}
		origin, stop = p, &q
	default:
		return nil, &InvalidSequenceError{Expr: expr, Reason: "want STEP, START/STEP or START/STEP/STOP"}
	}

	step, err := ParseInterval(kind, stepS)
	if err != nil {
		return nil, &InvalidSequenceError{Expr: expr, Reason: err.Error()}
	}
	start := ctxStart
	if ctxStart.Less(origin) {
		start = origin
	}
	seq, err := NewSequence(origin, step, start, stop)
	if err != nil {
		if ise, ok := err.(*InvalidSequenceError); ok {
			ise.Expr = expr
		}
		return nil, err
	}
	return seq, nil
}

// Step returns the sequence step.
func (s *Sequence) Step() Interval { return s.step }

// Start returns the inclusive lower bound.
func (s *Sequence) Start() Point { return s.start }

// Stop returns the inclusive upper bound, or false if unbounded.
func (s *Sequence) Stop() (Point, bool) {
	if s.stop == nil {
		return Point{}, false
	}
	return *s.stop, true
}

// Kind returns the calendar family of the sequence.
func (s *Sequence) Kind() Kind { return s.origin.Kind() }

// Equal reports structural equality: same origin, step and bounds. Two graph
// sections describing the same recurrence window collapse to one sequence.
func (s *Sequence) Equal(o *Sequence) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.origin != o.origin || s.step != o.step || s.start != o.start {
		return false
	}
	if (s.stop == nil) != (o.stop == nil) {
		return false
	}
	return s.stop == nil || *s.stop == *o.stop
}

// String returns the canonical ORIGIN/STEP[/STOP] form.
func (s *Sequence) String() string {
	if s.stop != nil {
		return fmt.Sprintf("%s/%s/%s", s.origin, s.step, s.stop)
	}
	return fmt.Sprintf("%s/%s", s.origin, s.step)
}

// pointAt returns origin + step*i.
func (s *Sequence) pointAt(i int64) Point {
	p, err := s.origin.Add(s.step.Mul(i))
	if err != nil {
		// Kinds were checked at construction.
		panic(err)
	}
	return p
}

// indexAtOrBelow returns the largest i such that pointAt(i) <= p.
func (s *Sequence) indexAtOrBelow(p Point) int64 {
	s.origin.mustMatch(p, "index")
	if s.step.months == 0 {
		return floorDiv(p.v-s.origin.v, s.step.secs)
	}
	// Nominal (month-bearing) steps have no exact arithmetic: estimate the
	// index with an average month length, then walk to the boundary.
	const avgMonthSecs = 2629800 // 365.25/12 days
	approx := s.step.months*avgMonthSecs + s.step.secs
	i := (p.v - s.origin.v) / approx
	for s.pointAt(i).v > p.v {
		i--
	}
	for s.pointAt(i+1).v <= p.v {
		i++
	}
	return i
}

// IsOn reports whether p lies on the sequence within its bounds.
func (s *Sequence) IsOn(p Point) bool {
	if p.Kind() != s.Kind() {
		return false
	}
	if p.Less(s.start) || (s.stop != nil && s.stop.Less(p)) {
		return false
	}
	return s.pointAt(s.indexAtOrBelow(p)) == p
}

// NextPoint returns the least on-sequence point strictly greater than p, or
// ok=false when the sequence has no such point (past the stop bound).
func (s *Sequence) NextPoint(p Point) (Point, bool) {
	s.origin.mustMatch(p, "next point")
	q := s.pointAt(s.indexAtOrBelow(p) + 1)
	if q.Less(s.start) {
		first, ok := s.FirstPoint()
		if !ok {
			return Point{}, false
		}
		q = first
	}
	if s.stop != nil && s.stop.Less(q) {
		return Point{}, false
	}
	return q, true
}

// NextPointOnSequence is NextPoint restricted to points already on the
// sequence; calling it with an off-sequence point is an error.
func (s *Sequence) NextPointOnSequence(p Point) (Point, bool, error) {
	if !s.IsOn(p) {
		return Point{}, false, fmt.Errorf("point %s is not on sequence %s", p, s)
	}
	q, ok := s.NextPoint(p)
	return q, ok, nil
}

// PrevPoint returns the greatest on-sequence point less than or equal to p,
// clamped to the stop bound, or ok=false when every sequence point is after
// p (or before the start bound).
func (s *Sequence) PrevPoint(p Point) (Point, bool) {
	s.origin.mustMatch(p, "prev point")
	if s.stop != nil && s.stop.Less(p) {
		p = *s.stop
	}
	q := s.pointAt(s.indexAtOrBelow(p))
	if q.Less(s.start) {
		return Point{}, false
	}
	return q, true
}

// FirstPoint returns the least on-sequence point at or after the start
// bound, or ok=false for an empty sequence window.
func (s *Sequence) FirstPoint() (Point, bool) {
	i := s.indexAtOrBelow(s.start)
	q := s.pointAt(i)
	if q.Less(s.start) {
		q = s.pointAt(i + 1)
	}
	if s.stop != nil && s.stop.Less(q) {
		return Point{}, false
	}
	return q, true
}

// floorDiv is integer division rounding towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
