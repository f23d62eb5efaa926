package task

import (
	"sort"

	"github.com/me/cyflow/pkg/graph"
)

// Outputs tracks the outputs one Proxy has emitted against the outputs its
// graph declares. The emitted set only ever grows.
type Outputs struct {
	// required maps every graph-declared output to its required flag.
	required map[string]bool
	emitted  map[string]bool
	order    []string
}

// NewOutputs builds the tracker from the compiled declaration table
// (output name -> required).
func NewOutputs(declared map[string]bool) *Outputs {
	req := make(map[string]bool, len(declared))
	for name, required := range declared {
		req[name] = required
	}
	return &Outputs{required: req, emitted: make(map[string]bool)}
}

// Emit records an output. Emitting a completion output also records the
// outputs it implies (succeeded implies started implies submitted), so a
// late or lost intermediate event cannot leave a gap. Emit is idempotent;
// it returns the outputs newly recorded, in order.
func (o *Outputs) Emit(name string) []string {
	var added []string
	for _, implied := range graph.Implies(name) {
		if !o.emitted[implied] {
			o.emitted[implied] = true
			o.order = append(o.order, implied)
			added = append(added, implied)
		}
	}
	if !o.emitted[name] {
		o.emitted[name] = true
		o.order = append(o.order, name)
		added = append(added, name)
	}
	return added
}

// IsEmitted reports whether the output has been emitted.
func (o *Outputs) IsEmitted(name string) bool {
	return o.emitted[name]
}

// Emitted returns the emitted outputs in emission order.
func (o *Outputs) Emitted() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// IsDeclared reports whether the graph references the output at all.
func (o *Outputs) IsDeclared(name string) bool {
	_, ok := o.required[name]
	return ok
}

// Declared returns the declared output names, sorted, with required flags.
func (o *Outputs) Declared() map[string]bool {
	out := make(map[string]bool, len(o.required))
	for k, v := range o.required {
		out[k] = v
	}
	return out
}

// IsComplete reports whether every required output has been emitted or been
// excused by a declared terminal branch. A terminal branch that the graph
// anticipates (references, required or optional) excuses the outputs it
// makes unreachable: expiry excuses everything, submit failure excuses the
// post-submission outputs, and failure excuses success. An unanticipated
// terminal branch excuses nothing, so the proxy reads as incomplete.
func (o *Outputs) IsComplete() bool {
	return len(o.MissingRequired()) == 0
}

// MissingRequired returns the required outputs still unemitted and
// unexcused, sorted. Used for incomplete-task reporting.
func (o *Outputs) MissingRequired() []string {
	excused := o.excusedSet()
	var missing []string
	for name, required := range o.required {
		if required && !o.emitted[name] && !excused[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// excusedSet computes the outputs excused by emitted, graph-anticipated
// terminal branches.
func (o *Outputs) excusedSet() map[string]bool {
	excused := make(map[string]bool)
	if o.emitted[graph.OutputExpired] && o.IsDeclared(graph.OutputExpired) {
		for name := range o.required {
			if name != graph.OutputExpired {
				excused[name] = true
			}
		}
	}
	if o.emitted[graph.OutputSubmitFailed] && o.IsDeclared(graph.OutputSubmitFailed) {
		excused[graph.OutputSubmitted] = true
		excused[graph.OutputStarted] = true
		excused[graph.OutputSucceeded] = true
		excused[graph.OutputFailed] = true
	}
	if o.emitted[graph.OutputFailed] && o.IsDeclared(graph.OutputFailed) {
		excused[graph.OutputSucceeded] = true
	}
	if o.emitted[graph.OutputSucceeded] && o.IsDeclared(graph.OutputSucceeded) {
		excused[graph.OutputFailed] = true
	}
	return excused
}

// Restore replays a persisted emission list, e.g. after a restart.
func (o *Outputs) Restore(emitted []string) {
	for _, name := range emitted {
		o.Emit(name)
	}
}
