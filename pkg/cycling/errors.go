package cycling

import "fmt"

// TypeMismatchError reports an operation that mixed the two calendar
// families. The loader guarantees a single family per workflow, so this is
// only ever raised while compiling a workflow definition.
type TypeMismatchError struct {
	Op   string
	A, B Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cycling type mismatch: cannot %s %s and %s values", e.Op, e.A, e.B)
}

// InvalidSequenceError reports a recurrence that cannot produce points, such
// as a null or negative step.
type InvalidSequenceError struct {
	Expr   string
	Reason string
}

func (e *InvalidSequenceError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("invalid sequence: %s", e.Reason)
	}
	return fmt.Sprintf("invalid sequence %q: %s", e.Expr, e.Reason)
}
