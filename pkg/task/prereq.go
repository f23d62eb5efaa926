package task

import (
	"fmt"

	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/graph"
)

// Condition is one prerequisite atom: an absolute (task, point, output)
// reference plus its satisfaction bit.
type Condition struct {
	Task      string
	Point     cycling.Point
	Output    string
	Satisfied bool
}

// Key returns the "name.point:output" form used for persistence.
func (c Condition) Key() string {
	return fmt.Sprintf("%s.%s:%s", c.Task, c.Point, c.Output)
}

// pnode mirrors the compiled expression shape over atom indices.
type pnode struct {
	op   graph.Op
	atom int
	kids []pnode
}

// Prerequisite is one compiled prerequisite expression instantiated at a
// concrete cycle point: the relative offsets of the graph triggers have
// been resolved to absolute points.
type Prerequisite struct {
	atoms []Condition
	root  pnode
}

// NewPrerequisite instantiates expr for a proxy at the given point. Atoms
// whose resolved point falls before the workflow start are satisfied
// immediately: dependence on cycles before the start of the workflow is
// vacuous.
func NewPrerequisite(expr *graph.Expr, point, workflowStart cycling.Point) (*Prerequisite, error) {
	p := &Prerequisite{}
	root, err := p.build(expr, point, workflowStart)
	if err != nil {
		return nil, err
	}
	p.root = root
	return p, nil
}

func (p *Prerequisite) build(e *graph.Expr, point, start cycling.Point) (pnode, error) {
	if e.Op == graph.OpTrigger {
		target, err := point.Add(e.Trigger.Offset)
		if err != nil {
			return pnode{}, err
		}
		cond := Condition{Task: e.Trigger.Task, Point: target, Output: e.Trigger.Output}
		if target.Less(start) {
			cond.Satisfied = true
		}
		p.atoms = append(p.atoms, cond)
		return pnode{op: graph.OpTrigger, atom: len(p.atoms) - 1}, nil
	}
	kids := make([]pnode, 0, len(e.Kids))
	for _, k := range e.Kids {
		n, err := p.build(k, point, start)
		if err != nil {
			return pnode{}, err
		}
		kids = append(kids, n)
	}
	return pnode{op: e.Op, kids: kids}, nil
}

// Satisfy marks every atom matching (task, point, output) satisfied and
// reports whether anything changed. Satisfaction is sticky: replaying the
// same emission is a no-op.
func (p *Prerequisite) Satisfy(task string, point cycling.Point, output string) bool {
	changed := false
	for i := range p.atoms {
		a := &p.atoms[i]
		if !a.Satisfied && a.Task == task && a.Point == point && a.Output == output {
			a.Satisfied = true
			changed = true
		}
	}
	return changed
}

// SatisfyAll force-satisfies every atom (manual triggering).
func (p *Prerequisite) SatisfyAll() {
	for i := range p.atoms {
		p.atoms[i].Satisfied = true
	}
}

// IsSatisfied evaluates the expression over the atom satisfaction bits.
func (p *Prerequisite) IsSatisfied() bool {
	return p.eval(p.root)
}

func (p *Prerequisite) eval(n pnode) bool {
	switch n.op {
	case graph.OpTrigger:
		return p.atoms[n.atom].Satisfied
	case graph.OpAnd:
		for _, k := range n.kids {
			if !p.eval(k) {
				return false
			}
		}
		return true
	default: // OpOr
		for _, k := range n.kids {
			if p.eval(k) {
				return true
			}
		}
		return false
	}
}

// References reports whether the prerequisite holds an unsatisfied atom
// naming (task, point). While it does, that proxy may not be removed from
// the pool.
func (p *Prerequisite) References(task string, point cycling.Point) bool {
	if p.IsSatisfied() {
		return false
	}
	for i := range p.atoms {
		a := &p.atoms[i]
		if !a.Satisfied && a.Task == task && a.Point == point {
			return true
		}
	}
	return false
}

// Conditions returns a copy of the atoms, for persistence and inspection.
func (p *Prerequisite) Conditions() []Condition {
	out := make([]Condition, len(p.atoms))
	copy(out, p.atoms)
	return out
}

// RestoreSatisfied replays persisted satisfaction bits keyed by
// Condition.Key.
func (p *Prerequisite) RestoreSatisfied(keys map[string]bool) {
	for i := range p.atoms {
		if keys[p.atoms[i].Key()] {
			p.atoms[i].Satisfied = true
		}
	}
}
