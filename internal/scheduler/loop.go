package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/me/cyflow/internal/broadcast"
	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/internal/jobs"
	"github.com/me/cyflow/internal/pool"
	"github.com/me/cyflow/internal/store"
	"github.com/me/cyflow/internal/xtrigger"
	"github.com/me/cyflow/pkg/cycling"
	"github.com/me/cyflow/pkg/task"
)

// Loop is the single-threaded scheduler. All workflow state is owned by
// the tick; job events and control commands enter through bounded
// channels and are drained at the start of a tick, never applied while
// the pool is being evaluated.
type Loop struct {
	wf         *config.Workflow
	pool       *pool.Pool
	store      store.Store
	runner     jobs.Runner
	xtriggers  *xtrigger.Registry
	broadcasts *broadcast.Manager
	cfg        config.SchedulerConfig
	logger     *slog.Logger
	source     string

	events   chan jobs.Event
	commands chan Command

	status   atomic.Pointer[Status]
	stopping bool
	stopWhy  string
	now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler loop for the workflow. Attach a runner with
// SetRunner before the first tick.
func New(wf *config.Workflow, st store.Store, cfg config.SchedulerConfig, logger *slog.Logger) *Loop {
	l := &Loop{
		wf:         wf,
		pool:       pool.New(wf, logger),
		store:      st,
		xtriggers:  xtrigger.NewRegistry(wf.Xtriggers),
		broadcasts: broadcast.NewManager(),
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
		events:     make(chan jobs.Event, 256),
		commands:   make(chan Command, 64),
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	l.status.Store(&Status{Workflow: wf.Name})
	return l
}

// SetRunner attaches the job runner.
func (l *Loop) SetRunner(r jobs.Runner) { l.runner = r }

// SetSource records the workflow definition file a reload command
// recompiles from. Without it reload commands are refused.
func (l *Loop) SetSource(path string) { l.source = path }

// Events returns the channel a runner delivers job events into.
func (l *Loop) Events() chan<- jobs.Event { return l.events }

// Enqueue queues a control command for the next tick. It fails rather
// than blocks when the queue is full.
func (l *Loop) Enqueue(cmd Command) error {
	select {
	case l.commands <- cmd:
		return nil
	default:
		return errors.New("command queue full")
	}
}

// Status returns the snapshot published by the last tick.
func (l *Loop) Status() *Status { return l.status.Load() }

// Init prepares the pool: a cold start seeds initial instances, a warm
// start restores the latest checkpoint.
func (l *Loop) Init(ctx context.Context) error {
	cp, err := l.store.LoadLatest(ctx)
	if errors.Is(err, store.ErrNoCheckpoint) {
		l.logger.Info("cold start", "workflow", l.wf.Name, "initial", l.wf.InitialCycle)
		if err := l.pool.SpawnInitial(); err != nil {
			return fmt.Errorf("spawn initial: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	l.logger.Info("restart", "workflow", l.wf.Name, "checkpoint", cp.ID, "from", cp.Time)
	if err := l.pool.Restore(cp.Tasks, cp.Params); err != nil {
		return fmt.Errorf("restore pool: %w", err)
	}
	l.broadcasts.Restore(cp.Broadcasts)
	l.xtriggers.Restore(cp.Xtriggers)
	l.pool.Touch(l.now())
	return nil
}

// Start begins the scheduling loop. Blocks until the workflow completes,
// a shutdown is requested, or ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "tick_interval", l.cfg.TickInterval)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			l.checkpoint(context.Background(), "shutdown")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			l.checkpoint(context.Background(), "shutdown")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
			if l.stopping {
				l.logger.Info("scheduler finished", "reason", l.stopWhy)
				l.checkpoint(ctx, l.stopWhy)
				close(l.doneCh)
				return nil
			}
		}
	}
}

// Stop shuts the scheduler down and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs one scheduling iteration.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()

	// Phase 1: drain queued inputs.
	l.drainEvents(now)
	l.drainCommands()

	// Phase 2: settle output propagation to a fixed point.
	if err := l.pool.Settle(); err != nil {
		return fmt.Errorf("settle: %w", err)
	}

	// Phase 3: evaluate xtriggers for waiting instances.
	l.checkXtriggers()

	// Phase 4: queue and dispatch runnable instances.
	if err := l.dispatch(ctx, now); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	// Phase 5: expiry, removal sweep, window advance.
	if err := l.pool.Update(now); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	// Phase 6: stop and stall checks.
	l.checkStop(now)

	// Phase 7: checkpoint and publish.
	if err := l.checkpoint(ctx, "tick"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	l.publish(now)
	return nil
}

func (l *Loop) drainEvents(now time.Time) {
	for {
		select {
		case e := <-l.events:
			l.applyEvent(e, now)
		default:
			return
		}
	}
}

// applyEvent maps one job event onto the proxy state machine. Events
// carry (task, point, submit-num); anything stale, unknown or already
// applied is dropped, which makes replayed events harmless.
func (l *Loop) applyEvent(e jobs.Event, now time.Time) {
	pr := l.pool.Get(task.ProxyID(e.Task, e.Point))
	if pr == nil {
		l.logger.Debug("event for unpooled task dropped", "task", e.Task, "point", e.Point, "kind", e.Kind)
		return
	}
	if e.SubmitNum != pr.SubmitNum {
		l.logger.Debug("stale event dropped", "task", pr.ID(), "kind", e.Kind,
			"event_submit", e.SubmitNum, "current_submit", pr.SubmitNum)
		return
	}

	switch e.Kind {
	case jobs.EventMessage:
		// A job message is either an output name or the message text a
		// custom output was declared with.
		output := e.Message
		for name, msg := range pr.Def.CustomOutputs {
			if msg == e.Message {
				output = name
				break
			}
		}
		l.pool.Emit(e.Task, e.Point, output)
		l.pool.Touch(now)
		return
	case jobs.EventFailed, jobs.EventSubmitFailed:
		st := task.StateFailed
		if e.Kind == jobs.EventSubmitFailed {
			st = task.StateSubmitFailed
		}
		if !pr.State.CanTransitionTo(st) {
			return
		}
		// While retries remain the failure is absorbed: the proxy goes
		// back to waiting and no failure output is emitted.
		if len(pr.Def.RetryDelays) > pr.RetriesUsed() {
			if err := pr.SetState(st); err != nil {
				return
			}
			pr.Retry(now)
			l.pool.Touch(now)
			l.logger.Info("retrying", "task", pr.ID(), "attempt", pr.RetriesUsed(), "at", pr.RetryAt)
			return
		}
		if err := l.pool.Transition(pr, st, now); err != nil {
			l.logger.Debug("event transition refused", "task", pr.ID(), "kind", e.Kind, "error", err)
		}
		return
	}

	var st task.State
	switch e.Kind {
	case jobs.EventSubmitted:
		st = task.StateSubmitted
	case jobs.EventStarted:
		st = task.StateRunning
	case jobs.EventSucceeded:
		st = task.StateSucceeded
	default:
		l.logger.Warn("unknown event kind", "kind", e.Kind)
		return
	}
	if !pr.State.CanTransitionTo(st) {
		return
	}
	if err := l.pool.Transition(pr, st, now); err != nil {
		l.logger.Debug("event transition refused", "task", pr.ID(), "kind", e.Kind, "error", err)
	}
}

func (l *Loop) drainCommands() {
	for {
		select {
		case cmd := <-l.commands:
			res := l.applyCommand(cmd)
			if cmd.Reply != nil {
				cmd.Reply <- res
			}
		default:
			return
		}
	}
}

func (l *Loop) applyCommand(cmd Command) CommandResult {
	l.logger.Info("command", "kind", cmd.Kind, "name", cmd.Name, "point", cmd.Point)
	switch cmd.Kind {
	case CmdHold:
		return CommandResult{Count: l.pool.Hold(cmd.Name, cmd.Point)}
	case CmdRelease:
		return CommandResult{Count: l.pool.Release(cmd.Name, cmd.Point)}
	case CmdTrigger:
		trig := l.pool.Trigger(cmd.Name, cmd.Point)
		// Latch forced xtriggers in the registry; the per-proxy bits are
		// not checkpointed, the registry keys are.
		for _, pr := range trig {
			for name := range pr.Xtriggers {
				l.xtriggers.Force(name, pr.Point)
			}
		}
		return CommandResult{Count: len(trig)}
	case CmdBroadcastSet:
		l.broadcasts.Set(cmd.Point, cmd.Name, broadcast.Setting{Script: cmd.Script, Env: cmd.Env})
		return CommandResult{Count: 1}
	case CmdBroadcastCancel:
		if l.broadcasts.Cancel(cmd.Point, cmd.Name) {
			return CommandResult{Count: 1}
		}
		return CommandResult{}
	case CmdBroadcastClear:
		l.broadcasts.Clear()
		return CommandResult{Count: 1}
	case CmdStopTask:
		pt, err := cycling.ParsePoint(l.wf.Kind, cmd.Point)
		if err != nil {
			return CommandResult{Err: fmt.Errorf("stop point: %w", err)}
		}
		l.pool.SetStopTask(cmd.Name, pt)
		return CommandResult{Count: 1}
	case CmdReload:
		return l.reload()
	case CmdShutdown:
		l.stopping = true
		l.stopWhy = "shutdown"
		return CommandResult{Count: 1}
	default:
		return CommandResult{Err: fmt.Errorf("unknown command %q", cmd.Kind)}
	}
}

// reload recompiles the workflow definition and swaps it into the live
// pool between ticks. The workflow must keep its name; the pool rejects
// changes to the cycling kind or initial point.
func (l *Loop) reload() CommandResult {
	if l.source == "" {
		return CommandResult{Err: errors.New("reload: no workflow source file")}
	}
	wf, err := config.LoadWorkflow(l.source)
	if err != nil {
		return CommandResult{Err: fmt.Errorf("reload: %w", err)}
	}
	if wf.Name != l.wf.Name {
		return CommandResult{Err: fmt.Errorf("reload: workflow name changed from %q to %q", l.wf.Name, wf.Name)}
	}
	if err := l.pool.Reload(wf); err != nil {
		return CommandResult{Err: err}
	}
	l.xtriggers.Reload(wf.Xtriggers)
	l.wf = wf
	l.logger.Info("workflow reloaded", "source", l.source)
	return CommandResult{Count: 1}
}

func (l *Loop) checkXtriggers() {
	for _, pr := range l.pool.Proxies() {
		if pr.State != task.StateWaiting {
			continue
		}
		for name, ok := range pr.Xtriggers {
			if ok {
				continue
			}
			// A reload can drop a declaration instances still wait on.
			if !l.xtriggers.Declared(name) {
				l.logger.Warn("xtrigger no longer declared", "xtrigger", name, "task", pr.ID())
				continue
			}
			fired, err := l.xtriggers.Check(name, pr.Point)
			if err != nil {
				l.logger.Warn("xtrigger check failed", "xtrigger", name, "task", pr.ID(), "error", err)
				continue
			}
			if fired {
				pr.Xtriggers[name] = true
			}
		}
	}
}

// dispatch queues every runnable instance and submits everything queued
// and not yet dispatched, with broadcast overrides applied.
func (l *Loop) dispatch(ctx context.Context, now time.Time) error {
	for _, pr := range l.pool.Runnable(now) {
		if err := l.pool.Transition(pr, task.StateQueued, now); err != nil {
			return err
		}
	}
	for _, pr := range l.pool.Proxies() {
		if pr.State != task.StateQueued || pr.Dispatched {
			continue
		}
		pr.SubmitNum++
		pr.Dispatched = true

		script := pr.Def.Script
		env := make(map[string]string, len(pr.Def.Env))
		for k, v := range pr.Def.Env {
			env[k] = v
		}
		over := l.broadcasts.Resolve(pr.Def.Name, pr.Point)
		if over.Script != "" {
			script = over.Script
		}
		for k, v := range over.Env {
			env[k] = v
		}

		l.logger.Info("submit", "task", pr.ID(), "submit_num", pr.SubmitNum)
		err := l.runner.Submit(ctx, jobs.Request{
			Task:      pr.Def.Name,
			Point:     pr.Point,
			SubmitNum: pr.SubmitNum,
			Script:    script,
			Env:       env,
		})
		if err != nil {
			l.logger.Error("submit failed", "task", pr.ID(), "error", err)
		}
	}
	return nil
}

func (l *Loop) checkStop(now time.Time) {
	if l.pool.StopReached() {
		l.logger.Info("stop task finished, shutting down")
		l.pool.ClearStopTask()
		l.stopping = true
		l.stopWhy = "stop-task"
		return
	}
	if l.pool.Done() {
		l.logger.Info("workflow complete")
		l.stopping = true
		l.stopWhy = "done"
		return
	}
	if l.pool.IsStalled(now, l.stallWindow()) {
		l.logger.Warn("workflow stalled", "incomplete", l.pool.Incomplete())
		if l.wf.Stall.Abort {
			l.stopping = true
			l.stopWhy = "stall"
		}
	}
}

func (l *Loop) stallWindow() time.Duration {
	if l.wf.Stall.Timeout > 0 {
		return l.wf.Stall.Timeout
	}
	return l.cfg.StallTimeout
}

func (l *Loop) checkpoint(ctx context.Context, event string) error {
	rows, params, err := l.pool.Snapshot()
	if err != nil {
		return err
	}
	cp := &store.Checkpoint{
		Time:       l.now().UTC(),
		Event:      event,
		Tasks:      rows,
		Broadcasts: l.broadcasts.Snapshot(),
		Xtriggers:  l.xtriggers.Satisfied(),
		Params:     params,
	}
	return l.store.SaveCheckpoint(ctx, cp)
}

func (l *Loop) publish(now time.Time) {
	st := &Status{
		Workflow:   l.wf.Name,
		Stopping:   l.stopping,
		Stalled:    l.pool.IsStalled(now, l.stallWindow()),
		Done:       l.pool.Done(),
		Incomplete: l.pool.Incomplete(),
	}
	for _, pr := range l.pool.Proxies() {
		st.Tasks = append(st.Tasks, TaskStatus{
			ID:        pr.ID(),
			Name:      pr.Def.Name,
			Point:     pr.Point.String(),
			State:     string(pr.State),
			Held:      pr.Held,
			SubmitNum: pr.SubmitNum,
		})
	}
	l.status.Store(st)
}

var _ Scheduler = (*Loop)(nil)
