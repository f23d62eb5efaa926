package jobs

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/cyflow/pkg/cycling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func collect(t *testing.T, events <-chan Event, n int) []EventKind {
	t.Helper()
	kinds := make([]EventKind, 0, n)
	for len(kinds) < n {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %v", kinds)
		}
	}
	return kinds
}

func TestLocalRunner_Lifecycle(t *testing.T) {
	events := make(chan Event, 8)
	r := NewLocalRunner(events, t.TempDir(), testLogger())

	req := Request{Task: "a", Point: cycling.NewIntegerPoint(1), SubmitNum: 1,
		Script: "echo hello", Env: map[string]string{"GREETING": "hi"}}
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := collect(t, events, 3)
	want := []EventKind{EventSubmitted, EventStarted, EventSucceeded}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestLocalRunner_FailureAndOutputFiles(t *testing.T) {
	events := make(chan Event, 8)
	dir := t.TempDir()
	r := NewLocalRunner(events, dir, testLogger())

	req := Request{Task: "a", Point: cycling.NewIntegerPoint(2), SubmitNum: 1,
		Script: "echo oops >&2; exit 3"}
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := collect(t, events, 3)
	if got[2] != EventFailed {
		t.Fatalf("events = %v, want failed last", got)
	}

	errFile := filepath.Join(dir, "a.2", "01", "job.err")
	data, err := os.ReadFile(errFile)
	if err != nil {
		t.Fatalf("read %s: %v", errFile, err)
	}
	if string(data) != "oops\n" {
		t.Errorf("job.err = %q", data)
	}
}

func TestLocalRunner_EmptyScriptSucceeds(t *testing.T) {
	events := make(chan Event, 8)
	r := NewLocalRunner(events, t.TempDir(), testLogger())

	req := Request{Task: "noop", Point: cycling.NewIntegerPoint(1), SubmitNum: 1}
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := collect(t, events, 3)
	if got[2] != EventSucceeded {
		t.Fatalf("events = %v", got)
	}
}

func TestLocalRunner_SubmitDoesNotBlockOnEvents(t *testing.T) {
	// An undrained channel: the scheduler only reads events between
	// ticks, so every Submit of a dispatch burst must return before
	// anyone receives.
	events := make(chan Event)
	r := NewLocalRunner(events, t.TempDir(), testLogger())

	const n = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= n; i++ {
			req := Request{Task: "noop", Point: cycling.NewIntegerPoint(int64(i)), SubmitNum: 1}
			if err := r.Submit(context.Background(), req); err != nil {
				t.Errorf("Submit %d: %v", i, err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked on an undrained event channel")
	}

	succeeded := 0
	for _, k := range collect(t, events, n*3) {
		if k == EventSucceeded {
			succeeded++
		}
	}
	if succeeded != n {
		t.Errorf("succeeded = %d, want %d", succeeded, n)
	}
}

func TestLocalRunner_EnvInjection(t *testing.T) {
	events := make(chan Event, 8)
	dir := t.TempDir()
	r := NewLocalRunner(events, dir, testLogger())

	req := Request{Task: "env", Point: cycling.NewIntegerPoint(3), SubmitNum: 2,
		Script: "echo $MODE $CYFLOW_TASK $CYFLOW_CYCLE $CYFLOW_SUBMIT",
		Env:    map[string]string{"MODE": "fast"}}
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	collect(t, events, 3)

	data, err := os.ReadFile(filepath.Join(dir, "env.3", "02", "job.out"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fast env 3 2\n" {
		t.Errorf("job.out = %q", data)
	}
}

func TestLocalRunner_CustomMessages(t *testing.T) {
	events := make(chan Event, 8)
	r := NewLocalRunner(events, t.TempDir(), testLogger())

	req := Request{Task: "a", Point: cycling.NewIntegerPoint(1), SubmitNum: 1,
		Script: `echo data >> "$CYFLOW_MESSAGES"`}
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	kinds := make([]EventKind, 0, 4)
	var msg string
	for len(kinds) < 4 {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
			if e.Kind == EventMessage {
				msg = e.Message
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %v", kinds)
		}
	}
	if kinds[2] != EventMessage || msg != "data" || kinds[3] != EventSucceeded {
		t.Fatalf("events = %v, message = %q", kinds, msg)
	}
}

func TestSimRunner_ScriptedOutcomes(t *testing.T) {
	events := make(chan Event, 16)
	r := NewSimRunner(events, map[string][]EventKind{
		"a.1": {EventFailed, EventSucceeded},
		"b.1": {EventSubmitFailed},
	})
	r.EmitMessages("a.1", "data")

	ctx := context.Background()
	a := Request{Task: "a", Point: cycling.NewIntegerPoint(1), SubmitNum: 1}
	if err := r.Submit(ctx, a); err != nil {
		t.Fatal(err)
	}
	got := collect(t, events, 3)
	if got[2] != EventFailed {
		t.Fatalf("first attempt = %v", got)
	}

	a.SubmitNum = 2
	if err := r.Submit(ctx, a); err != nil {
		t.Fatal(err)
	}
	got = collect(t, events, 4)
	if got[2] != EventMessage || got[3] != EventSucceeded {
		t.Fatalf("second attempt = %v", got)
	}
	if r.Attempts("a.1") != 2 {
		t.Errorf("attempts = %d", r.Attempts("a.1"))
	}

	if err := r.Submit(ctx, Request{Task: "b", Point: cycling.NewIntegerPoint(1), SubmitNum: 1}); err != nil {
		t.Fatal(err)
	}
	got = collect(t, events, 1)
	if got[0] != EventSubmitFailed {
		t.Fatalf("b = %v", got)
	}
}
