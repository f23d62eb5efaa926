package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// LocalRunner executes job scripts as local shell processes. Each
// submission gets its own directory under workDir holding job.out and
// job.err. Events are delivered on the channel given at construction.
type LocalRunner struct {
	events  chan<- Event
	workDir string
	logger  *slog.Logger
}

// NewLocalRunner creates a LocalRunner rooted at workDir. If workDir is
// empty, os.TempDir() is used.
func NewLocalRunner(events chan<- Event, workDir string, logger *slog.Logger) *LocalRunner {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalRunner{
		events:  events,
		workDir: workDir,
		logger:  logger.With("component", "jobs"),
	}
}

// Submit starts the job asynchronously. Submit never sends on the event
// channel itself: each job's lifecycle, submitted through the completion
// event, is reported from its own goroutine, so the scheduler can
// dispatch any number of jobs in one tick against a bounded channel. An
// empty script succeeds without running anything.
func (r *LocalRunner) Submit(ctx context.Context, req Request) error {
	jobDir := filepath.Join(r.workDir, fmt.Sprintf("%s.%s", req.Task, req.Point), fmt.Sprintf("%02d", req.SubmitNum))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		go r.emit(req, EventSubmitFailed, "")
		return fmt.Errorf("job %s.%s: create job dir: %w", req.Task, req.Point, err)
	}

	if req.Script == "" {
		go func() {
			r.emit(req, EventSubmitted, "")
			r.emit(req, EventStarted, "")
			r.emit(req, EventSucceeded, "")
		}()
		return nil
	}

	stdout, err := os.Create(filepath.Join(jobDir, "job.out"))
	if err != nil {
		go r.emit(req, EventSubmitFailed, "")
		return fmt.Errorf("job %s.%s: %w", req.Task, req.Point, err)
	}
	stderr, err := os.Create(filepath.Join(jobDir, "job.err"))
	if err != nil {
		stdout.Close()
		go r.emit(req, EventSubmitFailed, "")
		return fmt.Errorf("job %s.%s: %w", req.Task, req.Point, err)
	}

	// Scripts report custom outputs by appending lines to this file.
	msgFile := filepath.Join(jobDir, "messages")

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", req.Script)
	cmd.Dir = jobDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), envList(req)...)
	cmd.Env = append(cmd.Env, "CYFLOW_MESSAGES="+msgFile)

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		go r.emit(req, EventSubmitFailed, "")
		r.logger.Warn("submit failed", "task", req.Task, "point", req.Point, "error", err)
		return nil
	}

	go func() {
		defer stdout.Close()
		defer stderr.Close()
		r.emit(req, EventSubmitted, "")
		r.emit(req, EventStarted, "")
		err := cmd.Wait()
		for _, msg := range readMessages(msgFile) {
			r.emit(req, EventMessage, msg)
		}
		if err != nil {
			r.logger.Debug("job failed", "task", req.Task, "point", req.Point, "error", err)
			r.emit(req, EventFailed, "")
			return
		}
		r.emit(req, EventSucceeded, "")
	}()
	return nil
}

func readMessages(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (r *LocalRunner) emit(req Request, kind EventKind, msg string) {
	r.events <- Event{
		Task:      req.Task,
		Point:     req.Point,
		SubmitNum: req.SubmitNum,
		Kind:      kind,
		Message:   msg,
	}
}

func envList(req Request) []string {
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys)+3)
	for _, k := range keys {
		out = append(out, k+"="+req.Env[k])
	}
	out = append(out,
		"CYFLOW_TASK="+req.Task,
		"CYFLOW_CYCLE="+req.Point.String(),
		fmt.Sprintf("CYFLOW_SUBMIT=%d", req.SubmitNum),
	)
	return out
}
