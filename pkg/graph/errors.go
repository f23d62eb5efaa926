package graph

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed graph expression, with the offending line.
type ParseError struct {
	Line string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad graph expression %q: %s", e.Line, e.Msg)
}

// UnknownOutputError reports a qualifier referencing an output that the task
// never declares.
type UnknownOutputError struct {
	Task   string
	Output string
}

func (e *UnknownOutputError) Error() string {
	return fmt.Sprintf("graph references undeclared output %s:%s", e.Task, e.Output)
}

// GraphCycleError reports a same-cycle-point dependency cycle.
type GraphCycleError struct {
	Tasks []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("graph contains a same-cycle dependency cycle involving: %s",
		strings.Join(e.Tasks, ", "))
}
