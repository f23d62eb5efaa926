package graph

import (
	"fmt"

	"github.com/me/cyflow/pkg/cycling"
)

// Compile parses and compiles one graph string for the given calendar
// family. custom lists each task's declared custom outputs, referenced in
// the graph by name.
//
// Compile is the only entry point for the compile-time error taxonomy:
// ParseError, UnknownOutputError and GraphCycleError are all raised here and
// never at runtime.
func Compile(kind cycling.Kind, text string, custom map[string][]string) (*Graph, error) {
	c := &compiler{
		kind:    kind,
		custom:  make(map[string]map[string]bool, len(custom)),
		g:       &Graph{Tasks: make(map[string]*TaskGraph)},
		declOpt: make(map[string]map[string]bool),
	}
	for task, outputs := range custom {
		set := make(map[string]bool, len(outputs))
		for _, o := range outputs {
			set[o] = true
		}
		c.custom[task] = set
	}

	for _, stmt := range statements(text) {
		chain, err := parseStatement(stmt)
		if err != nil {
			return nil, err
		}
		if err := c.compileChain(stmt, chain); err != nil {
			return nil, err
		}
	}

	c.finalize()
	if err := checkCycles(c.g); err != nil {
		return nil, err
	}
	return c.g, nil
}

type compiler struct {
	kind   cycling.Kind
	custom map[string]map[string]bool
	g      *Graph
	// declOpt tracks how each referenced output was marked: optional (true)
	// or required (false). Conflicting marks are a compile error.
	declOpt map[string]map[string]bool
	stmt    string
}

func (c *compiler) errf(format string, args ...any) error {
	return &ParseError{Line: c.stmt, Msg: fmt.Sprintf(format, args...)}
}

func (c *compiler) compileChain(stmt string, chain []*node) error {
	c.stmt = stmt
	if len(chain) == 0 {
		return nil
	}

	if len(chain) == 1 {
		// A lone node list ("a" or "a & b") declares tasks with no
		// dependencies.
		targets, err := c.collectTargets(chain[0])
		if err != nil {
			return err
		}
		for _, r := range targets {
			if err := c.declareTarget(r); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i+1 < len(chain); i++ {
		left, right := chain[i], chain[i+1]

		targets, err := c.collectTargets(right)
		if err != nil {
			return err
		}
		expr, xtrigs, err := c.buildExpr(left)
		if err != nil {
			return err
		}

		for _, r := range targets {
			if err := c.declareTarget(r); err != nil {
				return err
			}
			tg := c.g.taskGraph(r.name)
			if expr != nil {
				tg.Exprs = append(tg.Exprs, expr)
			}
			for _, x := range xtrigs {
				tg.addXtrigger(x)
			}
		}
	}
	return nil
}

// collectTargets flattens the right side of a "=>" into task references.
// Only task names joined with "&" are allowed there.
func (c *compiler) collectTargets(n *node) ([]*ref, error) {
	switch {
	case n.op == OpTrigger && n.xtrig != "":
		return nil, c.errf("xtrigger @%s is not allowed on the right of =>", n.xtrig)
	case n.op == OpTrigger:
		if n.ref.offset != "" {
			return nil, c.errf("offset is not allowed on the right of => (%s[%s])", n.ref.name, n.ref.offset)
		}
		return []*ref{n.ref}, nil
	case n.op == OpAnd:
		var out []*ref
		for _, k := range n.kids {
			refs, err := c.collectTargets(k)
			if err != nil {
				return nil, err
			}
			out = append(out, refs...)
		}
		return out, nil
	default:
		return nil, c.errf("| is not allowed on the right of =>")
	}
}

// declareTarget records the output declaration a target reference carries:
// "b?" marks b:succeeded optional, "b:qual?" marks that output optional.
// A bare target declares nothing.
func (c *compiler) declareTarget(r *ref) error {
	c.g.taskGraph(r.name)
	if r.qual == "" && !r.opt {
		return nil
	}
	outputs, err := c.resolveQualifier(r)
	if err != nil {
		return err
	}
	for _, o := range outputs {
		if err := c.declare(r.name, o, r.opt || r.qual == "finish" || r.qual == "finished"); err != nil {
			return err
		}
	}
	return nil
}

// buildExpr converts a parse tree into a prerequisite expression, pulling
// xtrigger atoms out of the AND spine. Xtriggers under | are rejected: an
// alternative that may never be evaluated has no defined meaning.
func (c *compiler) buildExpr(n *node) (*Expr, []string, error) {
	switch {
	case n.op == OpTrigger && n.xtrig != "":
		return nil, []string{n.xtrig}, nil
	case n.op == OpTrigger:
		e, err := c.resolveRef(n.ref)
		if err != nil {
			return nil, nil, err
		}
		return e, nil, nil
	case n.op == OpAnd:
		var kids []*Expr
		var xtrigs []string
		for _, k := range n.kids {
			e, x, err := c.buildExpr(k)
			if err != nil {
				return nil, nil, err
			}
			if e != nil {
				kids = append(kids, e)
			}
			xtrigs = append(xtrigs, x...)
		}
		switch len(kids) {
		case 0:
			return nil, xtrigs, nil
		case 1:
			return kids[0], xtrigs, nil
		default:
			return &Expr{Op: OpAnd, Kids: kids}, xtrigs, nil
		}
	default: // OpOr
		var kids []*Expr
		for _, k := range n.kids {
			e, x, err := c.buildExpr(k)
			if err != nil {
				return nil, nil, err
			}
			if len(x) > 0 {
				return nil, nil, c.errf("xtrigger @%s is not allowed under |", x[0])
			}
			kids = append(kids, e)
		}
		return &Expr{Op: OpOr, Kids: kids}, nil, nil
	}
}

// resolveRef turns one task reference into an expression leaf (or an OR of
// leaves for :finish), declaring the referenced outputs as it goes.
func (c *compiler) resolveRef(r *ref) (*Expr, error) {
	offset := nullInterval(c.kind)
	if r.offset != "" {
		iv, err := cycling.ParseInterval(c.kind, r.offset)
		if err != nil {
			return nil, c.errf("bad offset on %s: %v", r.name, err)
		}
		offset = iv
	}

	outputs, err := c.resolveQualifier(r)
	if err != nil {
		return nil, err
	}

	optional := r.opt || r.qual == "finish" || r.qual == "finished"
	var kids []*Expr
	for _, o := range outputs {
		if err := c.declare(r.name, o, optional); err != nil {
			return nil, err
		}
		kids = append(kids, &Expr{
			Op:      OpTrigger,
			Trigger: &Trigger{Task: r.name, Offset: offset, Output: o, Optional: optional},
		})
	}
	if len(kids) == 1 {
		return kids[0], nil
	}
	return &Expr{Op: OpOr, Kids: kids}, nil
}

// resolveQualifier maps a reference's qualifier to canonical output names.
// ":finish" expands to succeeded-or-failed.
func (c *compiler) resolveQualifier(r *ref) ([]string, error) {
	switch r.qual {
	case "":
		return []string{OutputSucceeded}, nil
	case "finish", "finished":
		return []string{OutputSucceeded, OutputFailed}, nil
	}
	if canonical, ok := qualifierAliases[r.qual]; ok {
		return []string{canonical}, nil
	}
	if c.custom[r.name][r.qual] {
		return []string{r.qual}, nil
	}
	return nil, &UnknownOutputError{Task: r.name, Output: r.qual}
}

// declare records one output reference and its optionality; conflicting
// required/optional marks for the same output are a compile error.
func (c *compiler) declare(task, output string, optional bool) error {
	c.g.taskGraph(task)
	m, ok := c.declOpt[task]
	if !ok {
		m = make(map[string]bool)
		c.declOpt[task] = m
	}
	if prev, ok := m[output]; ok && prev != optional {
		return c.errf("output %s:%s is referenced as both required and optional", task, output)
	}
	m[output] = optional
	return nil
}

// finalize fills each task's output table from the recorded declarations and
// applies the default completion condition: a task with neither success nor
// failure referenced anywhere must succeed.
func (c *compiler) finalize() {
	for name, tg := range c.g.Tasks {
		for output, optional := range c.declOpt[name] {
			tg.Outputs[output] = !optional
		}
		_, hasSucceeded := tg.Outputs[OutputSucceeded]
		_, hasFailed := tg.Outputs[OutputFailed]
		if !hasSucceeded && !hasFailed {
			tg.Outputs[OutputSucceeded] = true
		}
	}
}

func nullInterval(kind cycling.Kind) cycling.Interval {
	if kind == cycling.Integer {
		return cycling.NewIntegerInterval(0)
	}
	return cycling.NewGregorianInterval(0, 0)
}
