package cli

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/internal/scheduler"
	"github.com/me/cyflow/internal/server"
)

// stubController implements server.Controller; commands are applied
// immediately with a fixed count.
type stubController struct {
	status *scheduler.Status
	cmds   []scheduler.Command
	count  int
}

func (c *stubController) Status() *scheduler.Status { return c.status }

func (c *stubController) Enqueue(cmd scheduler.Command) error {
	c.cmds = append(c.cmds, cmd)
	if cmd.Reply != nil {
		cmd.Reply <- scheduler.CommandResult{Count: c.count}
	}
	return nil
}

// startTestServer serves the control API for a stub scheduler.
func startTestServer(t *testing.T, ctrl *stubController) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	if ctrl.status == nil {
		ctrl.status = &scheduler.Status{
			Workflow: "demo",
			Tasks: []scheduler.TaskStatus{
				{ID: "a.1", Name: "a", Point: "1", State: "running", SubmitNum: 1},
				{ID: "b.1", Name: "b", Point: "1", State: "waiting", Held: true},
			},
		}
	}
	srv := server.New(config.DefaultSchedulerConfig(), ctrl, nil, srvLogger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts.URL
}

// runCLI executes the root command and captures both cobra output and
// what the command printed to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var cobraOut bytes.Buffer
	root.SetOut(&cobraOut)
	root.SetErr(&cobraOut)
	root.SetArgs(args)

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	execErr := root.Execute()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String() + cobraOut.String(), execErr
}

const sampleWorkflow = `
name: demo
cycling: integer
initialCycle: "1"
finalCycle: "3"
graph:
  "P1": "prep => run => archive"
tasks:
  run:
    script: "echo run"
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeWorkflow(t, sampleWorkflow)

	output, err := runCLI(t, "validate", path)
	if err != nil {
		t.Fatalf("validate error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Workflow demo is valid") {
		t.Errorf("expected validity line, got: %s", output)
	}
	for _, name := range []string{"prep", "run", "archive"} {
		if !strings.Contains(output, name) {
			t.Errorf("expected task %q in output, got: %s", name, output)
		}
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeWorkflow(t, "name: broken\ncycling: integer\n")

	output, err := runCLI(t, "validate", path)
	if err == nil {
		t.Fatalf("expected error for workflow without a graph, output: %s", output)
	}
}

func TestStatusCommand(t *testing.T) {
	url := startTestServer(t, &stubController{})

	output, err := runCLI(t, "--server", url, "status")
	if err != nil {
		t.Fatalf("status error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Workflow: demo") {
		t.Errorf("expected workflow name, got: %s", output)
	}
	if !strings.Contains(output, "running") {
		t.Errorf("expected running state, got: %s", output)
	}
}

func TestTasksCommand(t *testing.T) {
	url := startTestServer(t, &stubController{})

	output, err := runCLI(t, "--server", url, "tasks", "--state", "waiting")
	if err != nil {
		t.Fatalf("tasks error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "b.1") || !strings.Contains(output, "held") {
		t.Errorf("expected held b.1 row, got: %s", output)
	}
	if strings.Contains(output, "a.1") {
		t.Errorf("state filter leaked a.1: %s", output)
	}
}

func TestHoldCommand(t *testing.T) {
	ctrl := &stubController{count: 2}
	url := startTestServer(t, ctrl)

	output, err := runCLI(t, "--server", url, "hold", "a", "3")
	if err != nil {
		t.Fatalf("hold error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "applied to 2 task(s)") {
		t.Errorf("expected applied count, got: %s", output)
	}
	if len(ctrl.cmds) != 1 {
		t.Fatalf("cmds = %v", ctrl.cmds)
	}
	cmd := ctrl.cmds[0]
	if cmd.Kind != scheduler.CmdHold || cmd.Name != "a" || cmd.Point != "3" {
		t.Errorf("queued %+v", cmd)
	}
}

func TestBroadcastSetCommand(t *testing.T) {
	ctrl := &stubController{count: 1}
	url := startTestServer(t, ctrl)

	_, err := runCLI(t, "--server", url, "broadcast", "set", "run",
		"--point", "2", "--script", "echo fixed", "--env", "MODE=patched")
	if err != nil {
		t.Fatalf("broadcast set error: %v", err)
	}
	cmd := ctrl.cmds[0]
	if cmd.Kind != scheduler.CmdBroadcastSet || cmd.Script != "echo fixed" || cmd.Env["MODE"] != "patched" {
		t.Errorf("queued %+v", cmd)
	}
	if cmd.Point != "2" {
		t.Errorf("point = %q", cmd.Point)
	}
}

func TestBroadcastSetCommand_BadEnv(t *testing.T) {
	url := startTestServer(t, &stubController{})

	_, err := runCLI(t, "--server", url, "broadcast", "set", "run", "--env", "MODE")
	if err == nil || !strings.Contains(err.Error(), "KEY=VALUE") {
		t.Fatalf("expected env format error, got: %v", err)
	}
}

func TestReloadCommand(t *testing.T) {
	ctrl := &stubController{count: 1}
	url := startTestServer(t, ctrl)

	output, err := runCLI(t, "--server", url, "reload")
	if err != nil {
		t.Fatalf("reload error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "reloaded") {
		t.Errorf("expected reload confirmation, got: %s", output)
	}
	if len(ctrl.cmds) != 1 || ctrl.cmds[0].Kind != scheduler.CmdReload {
		t.Fatalf("cmds = %v", ctrl.cmds)
	}
}

func TestStopCommand(t *testing.T) {
	ctrl := &stubController{count: 1}
	url := startTestServer(t, ctrl)

	if _, err := runCLI(t, "--server", url, "stop"); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if ctrl.cmds[0].Kind != scheduler.CmdShutdown {
		t.Errorf("queued %+v", ctrl.cmds[0])
	}

	if _, err := runCLI(t, "--server", url, "stop", "--after-task", "run", "--point", "3"); err != nil {
		t.Fatalf("stop --after-task error: %v", err)
	}
	last := ctrl.cmds[len(ctrl.cmds)-1]
	if last.Kind != scheduler.CmdStopTask || last.Name != "run" || last.Point != "3" {
		t.Errorf("queued %+v", last)
	}
}

func TestStopCommand_TaskWithoutPoint(t *testing.T) {
	url := startTestServer(t, &stubController{})

	_, err := runCLI(t, "--server", url, "stop", "--after-task", "run")
	if err == nil {
		t.Fatal("expected error for stop task without a point")
	}
}
