package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/me/cyflow/internal/broadcast"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleCheckpoint(event string) *Checkpoint {
	return &Checkpoint{
		Event: event,
		Tasks: []TaskRow{
			{Cycle: "1", Name: "a", State: "succeeded", SubmitNum: 1,
				Outputs: []string{"submitted", "started", "succeeded"}},
			{Cycle: "1", Name: "b", State: "running", SubmitNum: 1, TryNum: 1,
				Outputs: []string{"submitted", "started"},
				Prereqs: []string{"a.1:succeeded"}},
			{Cycle: "2", Name: "a", State: "waiting", Held: true},
		},
		Broadcasts: []broadcast.Item{
			{PointPattern: "*", NamePattern: "b", Key: "env.MODE", Value: "slow"},
		},
		Xtriggers: []string{"ready@1"},
		Params:    map[string]string{"stop_task": "b.2"},
	}
}

func TestSQLiteStore_CheckpointRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("shutdown")
	if err := st.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if cp.ID == "" {
		t.Fatal("SaveCheckpoint left ID empty")
	}

	got, err := st.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.ID != cp.ID || got.Event != "shutdown" {
		t.Errorf("got id/event %s/%s", got.ID, got.Event)
	}
	if !reflect.DeepEqual(got.Tasks, cp.Tasks) {
		t.Errorf("tasks:\n got %+v\nwant %+v", got.Tasks, cp.Tasks)
	}
	if !reflect.DeepEqual(got.Broadcasts, cp.Broadcasts) {
		t.Errorf("broadcasts: got %+v", got.Broadcasts)
	}
	if !reflect.DeepEqual(got.Xtriggers, cp.Xtriggers) {
		t.Errorf("xtriggers: got %+v", got.Xtriggers)
	}
	if got.Params["stop_task"] != "b.2" {
		t.Errorf("params: got %+v", got.Params)
	}
}

func TestSQLiteStore_LoadLatestEmpty(t *testing.T) {
	st := testStore(t)
	if _, err := st.LoadLatest(context.Background()); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("err = %v, want ErrNoCheckpoint", err)
	}
}

func TestSQLiteStore_LatestWinsAndPrunes(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var lastID string
	for i := 0; i < keepCheckpoints+5; i++ {
		cp := sampleCheckpoint(fmt.Sprintf("tick-%d", i))
		cp.Time = base.Add(time.Duration(i) * time.Minute)
		if err := st.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint %d: %v", i, err)
		}
		lastID = cp.ID
	}

	got, err := st.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.ID != lastID {
		t.Errorf("latest = %s, want %s", got.ID, lastID)
	}

	infos, err := st.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(infos) != keepCheckpoints {
		t.Errorf("retained %d checkpoints, want %d", len(infos), keepCheckpoints)
	}
	if infos[0].ID != lastID {
		t.Errorf("newest first: got %s", infos[0].ID)
	}
}

func TestIsTransientSQLiteErr(t *testing.T) {
	if !isTransientSQLiteErr(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("busy error not transient")
	}
	if isTransientSQLiteErr(errors.New("UNIQUE constraint failed")) {
		t.Error("constraint error marked transient")
	}
	if isTransientSQLiteErr(nil) {
		t.Error("nil marked transient")
	}
}
