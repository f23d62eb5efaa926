package broadcast

import (
	"reflect"
	"testing"

	"github.com/me/cyflow/pkg/cycling"
)

func TestManager_ResolveSpecificity(t *testing.T) {
	m := NewManager()
	m.Set("*", "model", Setting{Env: map[string]string{"MODE": "all", "LEVEL": "1"}})
	m.Set("3", "model", Setting{Env: map[string]string{"MODE": "point3"}})

	got := m.Resolve("model", cycling.NewIntegerPoint(3))
	want := map[string]string{"MODE": "point3", "LEVEL": "1"}
	if !reflect.DeepEqual(got.Env, want) {
		t.Errorf("Resolve env = %v, want %v", got.Env, want)
	}

	got = m.Resolve("model", cycling.NewIntegerPoint(4))
	if got.Env["MODE"] != "all" {
		t.Errorf("wildcard-only point: MODE = %q, want all", got.Env["MODE"])
	}
}

func TestManager_NameGlob(t *testing.T) {
	m := NewManager()
	m.Set("*", "post_*", Setting{Script: "echo post"})

	if s := m.Resolve("post_proc", cycling.NewIntegerPoint(1)); s.Script != "echo post" {
		t.Errorf("glob match: script = %q", s.Script)
	}
	if s := m.Resolve("model", cycling.NewIntegerPoint(1)); s.Script != "" {
		t.Errorf("glob non-match: script = %q", s.Script)
	}
}

func TestManager_SetMergesAndCancelIdempotent(t *testing.T) {
	m := NewManager()
	m.Set("*", "a", Setting{Env: map[string]string{"X": "1"}})
	m.Set("*", "a", Setting{Env: map[string]string{"Y": "2"}})

	s := m.Resolve("a", cycling.NewIntegerPoint(1))
	if s.Env["X"] != "1" || s.Env["Y"] != "2" {
		t.Errorf("merged env = %v", s.Env)
	}

	if !m.Cancel("*", "a") {
		t.Error("Cancel existing returned false")
	}
	if m.Cancel("*", "a") {
		t.Error("Cancel absent returned true")
	}
	if s := m.Resolve("a", cycling.NewIntegerPoint(1)); len(s.Env) != 0 {
		t.Errorf("resolved after cancel: %v", s.Env)
	}
}

func TestManager_SnapshotRestoreRoundTrip(t *testing.T) {
	m := NewManager()
	m.Set("*", "model", Setting{Script: "run --fast", Env: map[string]string{"A": "1", "B": "2"}})
	m.Set("5", "post_*", Setting{Env: map[string]string{"C": "3"}})

	items := m.Snapshot()

	r := NewManager()
	r.Restore(items)
	if !reflect.DeepEqual(r.Snapshot(), items) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", r.Snapshot(), items)
	}

	s := r.Resolve("model", cycling.NewIntegerPoint(5))
	if s.Script != "run --fast" || s.Env["A"] != "1" {
		t.Errorf("restored Resolve = %+v", s)
	}
}
