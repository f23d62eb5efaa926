package config

import (
	"strings"
	"testing"
	"time"

	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/graph"
)

const sampleWorkflow = `
name: demo
cycling: integer
initialCycle: "1"
finalCycle: "5"
runahead: "P2"
stall:
  abort: true
  timeout: 30m
graph:
  "P1": |
    a => b => c
xtriggers:
  ready: "true"
tasks:
  a:
    script: "echo a"
    env:
      MODE: fast
    retryDelays: ["30s", "5m"]
  b:
    script: "echo b"
    outputs:
      data: "data ready"
`

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow([]byte(sampleWorkflow))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	if wf.Name != "demo" || wf.Kind != cycling.Integer {
		t.Errorf("name/kind = %q/%s", wf.Name, wf.Kind)
	}
	if wf.InitialCycle != cycling.NewIntegerPoint(1) {
		t.Errorf("initial = %s", wf.InitialCycle)
	}
	if wf.FinalCycle == nil || *wf.FinalCycle != cycling.NewIntegerPoint(5) {
		t.Errorf("final = %v", wf.FinalCycle)
	}
	if !wf.Runahead.IsCount() || wf.Runahead.Count != 2 {
		t.Errorf("runahead = %+v", wf.Runahead)
	}
	if !wf.Stall.Abort || wf.Stall.Timeout != 30*time.Minute {
		t.Errorf("stall = %+v", wf.Stall)
	}

	a, ok := wf.Defs["a"]
	if !ok {
		t.Fatal("no def for a")
	}
	if a.Script != "echo a" || a.Env["MODE"] != "fast" {
		t.Errorf("a = %+v", a)
	}
	if len(a.RetryDelays) != 2 || a.RetryDelays[0] != 30*time.Second {
		t.Errorf("a retry delays = %v", a.RetryDelays)
	}
	if len(a.Runs) != 1 || !a.Runs[0].Outputs[graph.OutputSucceeded] {
		t.Errorf("a runs = %+v", a.Runs)
	}

	// c has no task-table entry but is in the graph.
	c, ok := wf.Defs["c"]
	if !ok {
		t.Fatal("no def for implicit task c")
	}
	if len(c.Runs) != 1 || len(c.Runs[0].Exprs) == 0 {
		t.Errorf("c runs = %+v", c.Runs)
	}
}

func TestParseWorkflow_MultipleRecurrences(t *testing.T) {
	src := `
name: multi
cycling: integer
initialCycle: "1"
graph:
  "P1": "a => b"
  "P2": "a => c"
`
	wf, err := ParseWorkflow([]byte(src))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}
	a := wf.Defs["a"]
	if len(a.Runs) != 2 {
		t.Fatalf("a runs = %d, want 2", len(a.Runs))
	}
	if a.Runs[0].Sequence.Equal(a.Runs[1].Sequence) {
		t.Error("distinct recurrences compiled to equal sequences")
	}
}

func TestParseWorkflow_EquivalentRecurrencesShareSequence(t *testing.T) {
	// "P1" and "1/P1" denote the same recurrence from the initial point;
	// their runs must share one Sequence value.
	src := `
name: multi
cycling: integer
initialCycle: "1"
graph:
  "P1": "a => b"
  "1/P1": "a => c"
`
	wf, err := ParseWorkflow([]byte(src))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}
	a := wf.Defs["a"]
	if len(a.Runs) != 2 {
		t.Fatalf("a runs = %d, want 2", len(a.Runs))
	}
	if a.Runs[0].Sequence != a.Runs[1].Sequence {
		t.Error("equivalent recurrences did not collapse to one sequence")
	}
}

func TestParseWorkflow_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing name",
			src:  "cycling: integer\ninitialCycle: \"1\"\ngraph: {\"P1\": \"a\"}",
			want: "name",
		},
		{
			name: "unknown kind",
			src:  "name: x\ncycling: lunar\ninitialCycle: \"1\"\ngraph: {\"P1\": \"a\"}",
			want: "cycling kind",
		},
		{
			name: "no graph",
			src:  "name: x\ncycling: integer\ninitialCycle: \"1\"",
			want: "no graph",
		},
		{
			name: "final before initial",
			src:  "name: x\ncycling: integer\ninitialCycle: \"5\"\nfinalCycle: \"1\"\ngraph: {\"P1\": \"a\"}",
			want: "before initialCycle",
		},
		{
			name: "undeclared xtrigger",
			src:  "name: x\ncycling: integer\ninitialCycle: \"1\"\ngraph: {\"P1\": \"@ready => a\"}",
			want: "not declared",
		},
		{
			name: "clock expire on integer cycling",
			src:  "name: x\ncycling: integer\ninitialCycle: \"1\"\ngraph: {\"P1\": \"a\"}\ntasks: {a: {clockExpire: 1h}}",
			want: "gregorian",
		},
		{
			name: "bad retry delay",
			src:  "name: x\ncycling: integer\ninitialCycle: \"1\"\ngraph: {\"P1\": \"a\"}\ntasks: {a: {retryDelays: [\"soon\"]}}",
			want: "retry delay",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.src))
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseRunahead(t *testing.T) {
	if r, err := ParseRunahead(cycling.Integer, "P5"); err != nil || r.Count != 5 {
		t.Errorf("P5 = %+v, %v", r, err)
	}
	r, err := ParseRunahead(cycling.Gregorian, "PT12H")
	if err != nil || r.IsCount() || r.Interval.Seconds() != 12*3600 {
		t.Errorf("PT12H = %+v, %v", r, err)
	}
	if _, err := ParseRunahead(cycling.Integer, "P0"); err == nil {
		t.Error("P0: want error")
	}
}
