// Package graph compiles textual dependency-graph expressions into
// per-task trigger and output relationships.
//
// One graph string is compiled per recurrence sequence. The grammar:
//
//	a => b                 b triggers off a:succeeded
//	a & b => c             AND prerequisite
//	(a | b) => c           OR prerequisite (mixed & and | need parentheses)
//	a:fail? => r           output qualifier, trailing ? marks it optional
//	a[-P1] => a            inter-cycle offset
//	@ready => a            xtrigger reference
//	a => b => c            chains
package graph

import (
	"github.com/me/cyflow/pkg/cycling"
)

// Standard output names. Tasks may additionally declare custom message
// outputs, referenced in the graph by their declared name.
const (
	OutputExpired      = "expired"
	OutputSubmitted    = "submitted"
	OutputSubmitFailed = "submit-failed"
	OutputStarted      = "started"
	OutputSucceeded    = "succeeded"
	OutputFailed       = "failed"
)

// qualifierAliases maps graph qualifier spellings to canonical output names.
var qualifierAliases = map[string]string{
	"submit":        OutputSubmitted,
	"submitted":     OutputSubmitted,
	"submit-fail":   OutputSubmitFailed,
	"submit-failed": OutputSubmitFailed,
	"start":         OutputStarted,
	"started":       OutputStarted,
	"succeed":       OutputSucceeded,
	"succeeded":     OutputSucceeded,
	"fail":          OutputFailed,
	"failed":        OutputFailed,
	"expire":        OutputExpired,
	"expired":       OutputExpired,
}

// IsStandardOutput reports whether name is one of the built-in outputs.
func IsStandardOutput(name string) bool {
	switch name {
	case OutputExpired, OutputSubmitted, OutputSubmitFailed,
		OutputStarted, OutputSucceeded, OutputFailed:
		return true
	}
	return false
}

// Implies returns the outputs whose emission is implied by emitting name:
// a task that succeeded must have started, and one that started must have
// been submitted. Failure branches imply nothing extra downward.
func Implies(name string) []string {
	switch name {
	case OutputSucceeded, OutputFailed:
		return []string{OutputSubmitted, OutputStarted}
	case OutputStarted:
		return []string{OutputSubmitted}
	}
	return nil
}

// Op is the operator of an expression node.
type Op int

const (
	OpTrigger Op = iota // leaf: one qualified task reference
	OpAnd
	OpOr
)

// Trigger is one qualified reference to another task's output at a relative
// cycle offset.
type Trigger struct {
	Task     string
	Offset   cycling.Interval // null interval means the same cycle point
	Output   string
	Optional bool // trailing "?" on the reference
}

// Expr is a boolean expression tree over Triggers.
type Expr struct {
	Op      Op
	Trigger *Trigger // set when Op == OpTrigger
	Kids    []*Expr  // set when Op is OpAnd or OpOr
}

// Triggers returns every leaf trigger of the expression.
func (e *Expr) Triggers() []*Trigger {
	if e == nil {
		return nil
	}
	if e.Op == OpTrigger {
		return []*Trigger{e.Trigger}
	}
	var out []*Trigger
	for _, k := range e.Kids {
		out = append(out, k.Triggers()...)
	}
	return out
}

// TaskGraph is the compiled result for one task on one sequence: the
// prerequisite expressions gating it (all must be satisfied), the xtriggers
// it waits on, and the outputs it is declared to produce with their
// required flags.
type TaskGraph struct {
	Name      string
	Exprs     []*Expr
	Xtriggers []string
	Outputs   map[string]bool // output name -> required
}

// Graph is the compiled form of one graph string.
type Graph struct {
	Tasks map[string]*TaskGraph
}

// taskGraph returns (creating if needed) the entry for name.
func (g *Graph) taskGraph(name string) *TaskGraph {
	tg, ok := g.Tasks[name]
	if !ok {
		tg = &TaskGraph{Name: name, Outputs: make(map[string]bool)}
		g.Tasks[name] = tg
	}
	return tg
}

// addXtrigger records an xtrigger dependency, deduplicated.
func (tg *TaskGraph) addXtrigger(name string) {
	for _, x := range tg.Xtriggers {
		if x == name {
			return
		}
	}
	tg.Xtriggers = append(tg.Xtriggers, name)
}
