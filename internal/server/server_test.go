package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/internal/scheduler"
)

// fakeController applies commands synchronously and records them.
type fakeController struct {
	status *scheduler.Status
	cmds   []scheduler.Command
	result scheduler.CommandResult
	full   bool
	mute   bool
}

func (f *fakeController) Status() *scheduler.Status { return f.status }

func (f *fakeController) Enqueue(cmd scheduler.Command) error {
	if f.full {
		return errors.New("command queue full")
	}
	f.cmds = append(f.cmds, cmd)
	if cmd.Reply != nil && !f.mute {
		cmd.Reply <- f.result
	}
	return nil
}

func testServer(ctrl *fakeController) *Server {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	if ctrl.status == nil {
		ctrl.status = &scheduler.Status{
			Workflow: "demo",
			Tasks: []scheduler.TaskStatus{
				{ID: "a.1", Name: "a", Point: "1", State: "running", SubmitNum: 1},
				{ID: "a.2", Name: "a", Point: "2", State: "waiting"},
				{ID: "b.1", Name: "b", Point: "1", State: "waiting", Held: true},
			},
		}
	}
	return New(config.DefaultSchedulerConfig(), ctrl, nil, logger)
}

// envelope decodes the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantCode int) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantCode {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantCode, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func TestDiscovery(t *testing.T) {
	srv := testServer(&fakeController{})
	env := do(t, srv, "GET", "/api/v1/", "", http.StatusOK)
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(&fakeController{})
	env := do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)

	var data healthResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Status != "healthy" || data.Workflow != "demo" {
		t.Errorf("health = %+v", data)
	}
}

func TestStatusSnapshot(t *testing.T) {
	srv := testServer(&fakeController{})
	env := do(t, srv, "GET", "/api/v1/status", "", http.StatusOK)

	var st scheduler.Status
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Workflow != "demo" || len(st.Tasks) != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestListTasksFilter(t *testing.T) {
	srv := testServer(&fakeController{})

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/tasks", 3},
		{"/api/v1/tasks?state=waiting", 2},
		{"/api/v1/tasks?name=a", 2},
		{"/api/v1/tasks?name=a&state=running", 1},
		{"/api/v1/tasks?state=failed", 0},
	}
	for _, tt := range tests {
		env := do(t, srv, "GET", tt.path, "", http.StatusOK)
		var data struct {
			Count int                    `json:"count"`
			Tasks []scheduler.TaskStatus `json:"tasks"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data.Count != tt.want || len(data.Tasks) != tt.want {
			t.Errorf("%s: count = %d, want %d", tt.path, data.Count, tt.want)
		}
	}
}

func TestHoldCommand(t *testing.T) {
	ctrl := &fakeController{result: scheduler.CommandResult{Count: 2}}
	srv := testServer(ctrl)

	env := do(t, srv, "POST", "/api/v1/tasks/hold", `{"name":"a","point":"*"}`, http.StatusOK)

	var data commandResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if !data.Applied || data.Count != 2 {
		t.Errorf("response = %+v", data)
	}
	if len(ctrl.cmds) != 1 {
		t.Fatalf("cmds = %v", ctrl.cmds)
	}
	cmd := ctrl.cmds[0]
	if cmd.Kind != scheduler.CmdHold || cmd.Name != "a" || cmd.Point != "*" {
		t.Errorf("queued %+v", cmd)
	}
}

func TestCommandValidation(t *testing.T) {
	srv := testServer(&fakeController{})

	tests := []struct {
		path, body string
	}{
		{"/api/v1/tasks/hold", `{}`},
		{"/api/v1/tasks/trigger", `not json`},
		{"/api/v1/broadcast", `{"name":"a"}`},
		{"/api/v1/stop", `{"name":"a","point":"*"}`},
	}
	for _, tt := range tests {
		env := do(t, srv, "POST", tt.path, tt.body, http.StatusBadRequest)
		if env.Error == nil || env.Error.Code != "bad_request" {
			t.Errorf("%s: error = %+v", tt.path, env.Error)
		}
	}
}

func TestBroadcastSet(t *testing.T) {
	ctrl := &fakeController{result: scheduler.CommandResult{Count: 1}}
	srv := testServer(ctrl)

	do(t, srv, "POST", "/api/v1/broadcast",
		`{"name":"b","point":"2","script":"run --fix","env":{"MODE":"patched"}}`, http.StatusOK)

	cmd := ctrl.cmds[0]
	if cmd.Kind != scheduler.CmdBroadcastSet || cmd.Script != "run --fix" || cmd.Env["MODE"] != "patched" {
		t.Errorf("queued %+v", cmd)
	}
}

func TestReloadCommand(t *testing.T) {
	ctrl := &fakeController{result: scheduler.CommandResult{Count: 1}}
	srv := testServer(ctrl)

	env := do(t, srv, "POST", "/api/v1/reload", "", http.StatusOK)

	var data commandResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if !data.Applied {
		t.Errorf("response = %+v", data)
	}
	if len(ctrl.cmds) != 1 || ctrl.cmds[0].Kind != scheduler.CmdReload {
		t.Fatalf("cmds = %v", ctrl.cmds)
	}
}

func TestReloadFailure(t *testing.T) {
	ctrl := &fakeController{result: scheduler.CommandResult{Err: errors.New("YAML parse error")}}
	srv := testServer(ctrl)

	env := do(t, srv, "POST", "/api/v1/reload", "", http.StatusUnprocessableEntity)
	if env.Error == nil || env.Error.Code != "command_failed" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestStopVariants(t *testing.T) {
	ctrl := &fakeController{result: scheduler.CommandResult{Count: 1}}
	srv := testServer(ctrl)

	do(t, srv, "POST", "/api/v1/stop", "", http.StatusOK)
	do(t, srv, "POST", "/api/v1/stop", `{"name":"b","point":"3"}`, http.StatusOK)

	if len(ctrl.cmds) != 2 {
		t.Fatalf("cmds = %v", ctrl.cmds)
	}
	if ctrl.cmds[0].Kind != scheduler.CmdShutdown {
		t.Errorf("plain stop queued %+v", ctrl.cmds[0])
	}
	if ctrl.cmds[1].Kind != scheduler.CmdStopTask || ctrl.cmds[1].Point != "3" {
		t.Errorf("stop task queued %+v", ctrl.cmds[1])
	}
}

func TestQueueFull(t *testing.T) {
	srv := testServer(&fakeController{full: true})
	env := do(t, srv, "POST", "/api/v1/tasks/hold", `{"name":"*"}`, http.StatusServiceUnavailable)
	if env.Error == nil || env.Error.Code != "queue_full" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestSlowTickAccepted(t *testing.T) {
	ctrl := &fakeController{mute: true}
	srv := testServer(ctrl)
	srv.config.TickInterval = time.Millisecond

	env := do(t, srv, "POST", "/api/v1/tasks/release", `{"name":"*"}`, http.StatusAccepted)

	var data commandResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Applied {
		t.Error("unapplied command reported applied")
	}
}

func TestCheckpointsWithoutStore(t *testing.T) {
	srv := testServer(&fakeController{})
	env := do(t, srv, "GET", "/api/v1/checkpoints", "", http.StatusServiceUnavailable)
	if env.Error == nil || env.Error.Code != "no_store" {
		t.Errorf("error = %+v", env.Error)
	}
}
