// Package xtrigger evaluates external trigger expressions. An xtrigger is
// a named JavaScript boolean expression declared in the workflow file and
// referenced as @name in the graph; waiting tasks stay waiting until every
// referenced xtrigger has reported true for their cycle point. Once an
// xtrigger fires for a point it stays fired.
package xtrigger

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/me/cyflow/pkg/cycling"
)

// Registry holds the declared xtrigger expressions and remembers which
// (name, point) pairs have already fired.
type Registry struct {
	exprs     map[string]string
	satisfied map[string]bool
	now       func() time.Time
}

// NewRegistry compiles nothing up front; expressions are checked lazily so
// a broken xtrigger only fails the tasks that reference it.
func NewRegistry(exprs map[string]string) *Registry {
	r := &Registry{
		exprs:     make(map[string]string, len(exprs)),
		satisfied: make(map[string]bool),
		now:       time.Now,
	}
	for name, src := range exprs {
		r.exprs[name] = src
	}
	return r
}

// SetClock overrides the wall clock, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Reload replaces the declared expressions. Latched satisfactions are
// kept so a reload cannot un-fire an xtrigger tasks already observed.
func (r *Registry) Reload(exprs map[string]string) {
	r.exprs = make(map[string]string, len(exprs))
	for name, src := range exprs {
		r.exprs[name] = src
	}
}

// Declared reports whether name is a known xtrigger.
func (r *Registry) Declared(name string) bool {
	_, ok := r.exprs[name]
	return ok
}

func key(name string, point cycling.Point) string {
	return name + "@" + point.String()
}

// Check evaluates the named xtrigger for a cycle point. A true result is
// latched: subsequent calls return true without re-evaluating. The
// expression sees two globals: point (the canonical point string) and now
// (seconds since the Unix epoch).
func (r *Registry) Check(name string, point cycling.Point) (bool, error) {
	src, ok := r.exprs[name]
	if !ok {
		return false, fmt.Errorf("xtrigger %q is not declared", name)
	}
	k := key(name, point)
	if r.satisfied[k] {
		return true, nil
	}

	vm := goja.New()
	if err := vm.Set("point", point.String()); err != nil {
		return false, fmt.Errorf("xtrigger %s: set point: %w", name, err)
	}
	if err := vm.Set("now", float64(r.now().Unix())); err != nil {
		return false, fmt.Errorf("xtrigger %s: set now: %w", name, err)
	}
	val, err := vm.RunString(src)
	if err != nil {
		return false, fmt.Errorf("xtrigger %s at %s: %w", name, point, err)
	}
	if val.ToBoolean() {
		r.satisfied[k] = true
		return true, nil
	}
	return false, nil
}

// Force marks the xtrigger satisfied for the point without evaluating it.
func (r *Registry) Force(name string, point cycling.Point) {
	r.satisfied[key(name, point)] = true
}

// Satisfied returns the latched (name, point) keys, for checkpointing.
func (r *Registry) Satisfied() []string {
	out := make([]string, 0, len(r.satisfied))
	for k := range r.satisfied {
		out = append(out, k)
	}
	return out
}

// Restore re-latches keys recorded by Satisfied.
func (r *Registry) Restore(keys []string) {
	for _, k := range keys {
		r.satisfied[k] = true
	}
}
