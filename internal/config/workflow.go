package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/graph"
	"github.com/me/cyflow/pkg/task"
)

// workflowFile is the raw YAML schema of a workflow definition.
type workflowFile struct {
	Name         string              `yaml:"name"`
	Cycling      string              `yaml:"cycling"`
	InitialCycle string              `yaml:"initialCycle"`
	FinalCycle   string              `yaml:"finalCycle"`
	Runahead     string              `yaml:"runahead"`
	Stall        stallFile           `yaml:"stall"`
	Graph        map[string]string   `yaml:"graph"`
	Xtriggers    map[string]string   `yaml:"xtriggers"`
	Tasks        map[string]taskFile `yaml:"tasks"`
}

type stallFile struct {
	Abort   bool   `yaml:"abort"`
	Timeout string `yaml:"timeout"`
}

type taskFile struct {
	Script      string            `yaml:"script"`
	Env         map[string]string `yaml:"env"`
	RetryDelays []string          `yaml:"retryDelays"`
	ClockExpire string            `yaml:"clockExpire"`
	Outputs     map[string]string `yaml:"outputs"`
}

// Runahead is the active-window limit: a point count ("P3") or an interval
// ("PT12H"). Exactly one of the two is set.
type Runahead struct {
	Count    int64
	Interval cycling.Interval
}

// IsCount reports whether the limit is a point count.
func (r Runahead) IsCount() bool { return r.Count > 0 }

var countLimitRe = regexp.MustCompile(`^P([0-9]+)$`)

// ParseRunahead reads a runahead limit. "P<n>" is a count of active points;
// anything else must parse as an interval of the workflow's kind.
func ParseRunahead(kind cycling.Kind, s string) (Runahead, error) {
	if m := countLimitRe.FindStringSubmatch(s); m != nil {
		var n int64
		fmt.Sscanf(m[1], "%d", &n)
		if n < 1 {
			return Runahead{}, fmt.Errorf("runahead count must be at least 1, got %q", s)
		}
		return Runahead{Count: n}, nil
	}
	iv, err := cycling.ParseInterval(kind, s)
	if err != nil {
		return Runahead{}, fmt.Errorf("runahead %q: %w", s, err)
	}
	if iv.IsNull() || iv.IsNegative() {
		return Runahead{}, fmt.Errorf("runahead interval must be positive, got %q", s)
	}
	return Runahead{Interval: iv}, nil
}

// StallPolicy controls how the scheduler reacts to a stalled pool.
type StallPolicy struct {
	Abort   bool
	Timeout time.Duration
}

// Workflow is the compiled workflow definition: parsed points, compiled
// graphs, and a Def per task ready for the pool.
type Workflow struct {
	Name         string
	Kind         cycling.Kind
	InitialCycle cycling.Point
	FinalCycle   *cycling.Point
	Runahead     Runahead
	Stall        StallPolicy
	Xtriggers    map[string]string
	Defs         map[string]*task.Def
}

// LoadWorkflow reads and compiles a workflow definition file.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// ParseWorkflow compiles a workflow definition from YAML bytes.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var f workflowFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}

	if f.Name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	kind, err := cycling.ParseKind(f.Cycling)
	if err != nil {
		return nil, err
	}
	if f.InitialCycle == "" {
		return nil, fmt.Errorf("initialCycle is required")
	}
	initial, err := cycling.ParsePoint(kind, f.InitialCycle)
	if err != nil {
		return nil, fmt.Errorf("initialCycle: %w", err)
	}
	var final *cycling.Point
	if f.FinalCycle != "" {
		p, err := cycling.ParsePoint(kind, f.FinalCycle)
		if err != nil {
			return nil, fmt.Errorf("finalCycle: %w", err)
		}
		if p.Less(initial) {
			return nil, fmt.Errorf("finalCycle %s is before initialCycle %s", p, initial)
		}
		final = &p
	}

	runahead := Runahead{Count: 3}
	if f.Runahead != "" {
		runahead, err = ParseRunahead(kind, f.Runahead)
		if err != nil {
			return nil, err
		}
	}

	stall := StallPolicy{Abort: f.Stall.Abort}
	if f.Stall.Timeout != "" {
		d, err := time.ParseDuration(f.Stall.Timeout)
		if err != nil {
			return nil, fmt.Errorf("stall.timeout: %w", err)
		}
		stall.Timeout = d
	}

	if len(f.Graph) == 0 {
		return nil, fmt.Errorf("workflow has no graph")
	}

	custom := make(map[string][]string, len(f.Tasks))
	for name, tf := range f.Tasks {
		for out := range tf.Outputs {
			custom[name] = append(custom[name], out)
		}
		sort.Strings(custom[name])
	}

	defs := make(map[string]*task.Def)
	ensureDef := func(name string) *task.Def {
		d, ok := defs[name]
		if !ok {
			d = &task.Def{Name: name}
			defs[name] = d
		}
		return d
	}

	// Compile each recurrence's graph string and attach a Run per task.
	// Graph entries are compiled in sorted order so diagnostics and Run
	// ordering are deterministic.
	seqExprs := make([]string, 0, len(f.Graph))
	for expr := range f.Graph {
		seqExprs = append(seqExprs, expr)
	}
	sort.Strings(seqExprs)

	var seqs []*cycling.Sequence
	for _, seqExpr := range seqExprs {
		seq, err := cycling.ParseSequence(kind, seqExpr, initial, final)
		if err != nil {
			return nil, fmt.Errorf("graph recurrence %q: %w", seqExpr, err)
		}
		// Distinct expressions can denote one recurrence ("P1" and
		// "1/P1"); collapse them onto a single Sequence value so runs
		// compare and merge by identity downstream.
		dup := false
		for _, prev := range seqs {
			if prev.Equal(seq) {
				seq, dup = prev, true
				break
			}
		}
		if !dup {
			seqs = append(seqs, seq)
		}
		g, err := graph.Compile(kind, f.Graph[seqExpr], custom)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", seqExpr, err)
		}
		for name, tg := range g.Tasks {
			for _, x := range tg.Xtriggers {
				if _, ok := f.Xtriggers[x]; !ok {
					return nil, fmt.Errorf("graph %q: xtrigger %q is not declared", seqExpr, x)
				}
			}
			ensureDef(name).Runs = append(ensureDef(name).Runs, &task.Run{
				Sequence:  seq,
				Exprs:     tg.Exprs,
				Xtriggers: tg.Xtriggers,
				Outputs:   tg.Outputs,
			})
		}
	}

	// Apply the task table. Tasks may appear in the graph without an entry
	// here; such tasks run with an empty script.
	for name, tf := range f.Tasks {
		d := ensureDef(name)
		d.Script = tf.Script
		d.Env = tf.Env
		d.CustomOutputs = tf.Outputs
		for _, raw := range tf.RetryDelays {
			delay, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("task %s: retry delay %q: %w", name, raw, err)
			}
			d.RetryDelays = append(d.RetryDelays, delay)
		}
		if tf.ClockExpire != "" {
			if kind != cycling.Gregorian {
				return nil, fmt.Errorf("task %s: clockExpire requires gregorian cycling", name)
			}
			exp, err := time.ParseDuration(tf.ClockExpire)
			if err != nil {
				return nil, fmt.Errorf("task %s: clockExpire %q: %w", name, tf.ClockExpire, err)
			}
			d.ClockExpire = &exp
		}
	}

	return &Workflow{
		Name:         f.Name,
		Kind:         kind,
		InitialCycle: initial,
		FinalCycle:   final,
		Runahead:     runahead,
		Stall:        stall,
		Xtriggers:    f.Xtriggers,
		Defs:         defs,
	}, nil
}
