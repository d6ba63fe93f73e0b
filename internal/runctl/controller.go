// Package runctl drives a single `runway run` invocation from launch to a
// terminal state.
//
// One goroutine, the loop inside Controller.Run, owns the run state. The
// reconciler, key handling, the interrupt handler, the exit watcher and the
// teardown goroutines never touch it directly. They submit transitions that
// name the states they expect to leave from, and the loop drops any
// transition whose precondition no longer holds.
package runctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/supervisor"
)

const (
	DefaultStartPollInterval   = 300 * time.Millisecond
	DefaultRunningPollInterval = 500 * time.Millisecond
	DefaultInterruptDeadline   = 2 * time.Second

	reasonStopped = "Server stopped gracefully."
)

var ErrLauncherExited = errors.New("start command exited before the server came up")

type StateReader interface {
	Read() (models.ServerSnapshot, bool, error)
}

type RequestQueue interface {
	Enqueue(ctx context.Context, req models.ServerRequest) error
}

// Handle is the controller's view of the spawned start command.
type Handle interface {
	PID() int
	Done() <-chan struct{}
	Status() supervisor.ExitStatus
	Terminate()
	TerminateAndWait(ctx context.Context) supervisor.ExitStatus
}

// Launcher runs the project's build tool: a long running start command and a
// one shot stop command. Output of both goes to out.
type Launcher interface {
	Start(ctx context.Context, out supervisor.Sink) (Handle, error)
	Stop(ctx context.Context, out supervisor.Sink) error
}

// Update is what the presentation layer sees after every applied transition.
type Update struct {
	State  models.RunState
	Reason string
	// Snapshot is the server captured on entering running. It is zero before
	// that and never changes afterwards.
	Snapshot models.ServerSnapshot
	Err      error
}

type Config struct {
	Env      models.Environment
	State    StateReader
	Requests RequestQueue
	Launcher Launcher

	// Alive reports whether a pid is still running. Defaults to
	// supervisor.Alive.
	Alive func(pid int) bool

	// OnUpdate is called from the controller goroutine after each applied
	// transition. OnOutput receives subprocess output lines.
	OnUpdate func(Update)
	OnOutput supervisor.Sink

	StartPollInterval   time.Duration
	RunningPollInterval time.Duration
	InterruptDeadline   time.Duration
}

type transition struct {
	from     []models.RunState
	to       models.RunState
	reason   string
	err      error
	snapshot *models.ServerSnapshot
	// then runs on the controller goroutine right after the transition is
	// applied. It must not block.
	then    func()
	applied chan bool
}

type Controller struct {
	cfg         Config
	transitions chan transition
	finished    chan struct{}

	mu      sync.RWMutex
	current Update
	handle  Handle
	runCtx  context.Context
	// interrupted is set before Interrupt looks for a handle, so a handle
	// stored after that is terminated by Run instead.
	interrupted bool
}

func New(cfg Config) *Controller {
	if cfg.Alive == nil {
		cfg.Alive = supervisor.Alive
	}
	if cfg.StartPollInterval <= 0 {
		cfg.StartPollInterval = DefaultStartPollInterval
	}
	if cfg.RunningPollInterval <= 0 {
		cfg.RunningPollInterval = DefaultRunningPollInterval
	}
	if cfg.InterruptDeadline <= 0 {
		cfg.InterruptDeadline = DefaultInterruptDeadline
	}

	return &Controller{
		cfg:         cfg,
		transitions: make(chan transition),
		finished:    make(chan struct{}),
		current:     Update{State: models.RunStateStarting},
		runCtx:      context.Background(),
	}
}

// Current returns the latest applied update.
func (c *Controller) Current() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Controller) State() models.RunState {
	return c.Current().State
}

// Finished is closed when Run has returned.
func (c *Controller) Finished() <-chan struct{} {
	return c.finished
}

// Run launches the start command and processes transitions until a terminal
// state is reached, which it returns. Run must be called exactly once.
func (c *Controller) Run(ctx context.Context) Update {
	defer close(c.finished)

	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	c.publish(c.Current())

	handle, err := c.cfg.Launcher.Start(ctx, c.cfg.OnOutput)
	if err != nil {
		slog.Error("Failed to launch server", "component", "runctl", "error", err)
		c.apply(transition{
			from:   []models.RunState{models.RunStateStarting},
			to:     models.RunStateCancelled,
			reason: reasonSpawnFailed + err.Error(),
			err:    err,
		})
		return c.Current()
	}

	c.mu.Lock()
	c.handle = handle
	interrupted := c.interrupted
	c.mu.Unlock()

	if interrupted {
		slog.Info("Interrupted while launching, terminating start command", "component", "runctl", "pid", handle.PID())
		handle.Terminate()
	}

	go c.reconcile(ctx)
	go c.watchExit(handle)

	for {
		select {
		case t := <-c.transitions:
			c.apply(t)
		case <-ctx.Done():
			handle.Terminate()
			c.apply(transition{
				from:   nonTerminal,
				to:     models.RunStateCancelled,
				reason: "Run aborted: " + ctx.Err().Error(),
				err:    ctx.Err(),
			})
		}

		if u := c.Current(); u.State.IsTerminal() {
			return u
		}
	}
}

var nonTerminal = []models.RunState{
	models.RunStateStarting,
	models.RunStateRunning,
	models.RunStateStopping,
	models.RunStateCancelling,
}

func (c *Controller) apply(t transition) {
	c.mu.Lock()
	prev := c.current
	if !slices.Contains(t.from, prev.State) {
		c.mu.Unlock()
		slog.Debug("Ignoring stale transition", "component", "runctl", "state", prev.State, "to", t.to)
		if t.applied != nil {
			t.applied <- false
		}
		return
	}

	next := Update{State: t.to, Reason: t.reason, Snapshot: prev.Snapshot, Err: t.err}
	if t.snapshot != nil {
		next.Snapshot = *t.snapshot
	}
	c.current = next
	c.mu.Unlock()

	slog.Info("Run state changed", "component", "runctl", "from", prev.State, "to", next.State, "reason", next.Reason)
	c.publish(next)

	if t.then != nil {
		t.then()
	}
	if t.applied != nil {
		t.applied <- true
	}
}

func (c *Controller) publish(u Update) {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(u)
	}
}

// submit hands t to the controller loop and reports whether it was applied.
// It gives up when the run has finished or ctx ends before the loop takes it.
func (c *Controller) submit(ctx context.Context, t transition) bool {
	t.applied = make(chan bool, 1)
	select {
	case c.transitions <- t:
	case <-c.finished:
		return false
	case <-ctx.Done():
		return false
	}
	// apply always answers before the loop can return.
	return <-t.applied
}

func (c *Controller) getHandle() Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

func (c *Controller) context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runCtx
}

// terminateHandle signals the start command without waiting for it.
func (c *Controller) terminateHandle() {
	if h := c.getHandle(); h != nil {
		h.Terminate()
	}
}

// Cancel is the user's quit action. While starting it cancels the startup,
// while running it stops the server, and in any other state it does nothing.
// It may block briefly, so UI code should call it off the render loop.
func (c *Controller) Cancel() {
	switch state := c.State(); state {
	case models.RunStateStarting:
		c.submit(context.Background(), transition{
			from:   []models.RunState{models.RunStateStarting},
			to:     models.RunStateCancelling,
			reason: reasonUserQuit,
			then: func() {
				go c.teardown(models.RunStateCancelling, models.RunStateCancelled, reasonUserQuit, ErrUserCancelled, false)
			},
		})
	case models.RunStateRunning:
		c.submit(context.Background(), transition{
			from: []models.RunState{models.RunStateRunning},
			to:   models.RunStateStopping,
			then: func() {
				go c.teardown(models.RunStateStopping, models.RunStateStopped, reasonStopped, nil, true)
			},
		})
	default:
		slog.Debug("Ignoring cancel", "component", "runctl", "state", state)
	}
}

// teardown is shared by stopping and cancelling. Both wait for the start
// command to exit; only a stop runs the stop command afterwards.
func (c *Controller) teardown(from, to models.RunState, reason string, err error, stopServer bool) {
	ctx := c.context()

	if h := c.getHandle(); h != nil {
		status := h.TerminateAndWait(ctx)
		slog.Info("Start command terminated", "component", "runctl", "code", status.Code)
	}

	if stopServer {
		if err := c.cfg.Launcher.Stop(ctx, c.cfg.OnOutput); err != nil {
			slog.Warn("Stop command failed", "component", "runctl", "error", err)
		}
	}

	c.submit(context.Background(), transition{
		from:   []models.RunState{from},
		to:     to,
		reason: reason,
		err:    err,
	})
}

// Interrupt handles a process level interrupt. It is bounded by the
// interrupt deadline: a running server gets a Stop request queued for it
// instead of a synchronous shutdown, and the run is cancelled. Interrupt
// returns once the run has finished or the deadline passed.
func (c *Controller) Interrupt() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InterruptDeadline)
	defer cancel()

	c.mu.Lock()
	c.interrupted = true
	c.mu.Unlock()

	enqueued := false
	for {
		state := c.State()
		if state.IsTerminal() {
			break
		}

		c.terminateHandle()

		t := transition{to: models.RunStateCancelled, err: ErrForcedExit}
		switch state {
		case models.RunStateRunning, models.RunStateStopping:
			if !enqueued {
				enqueued = true
				c.enqueueStop(ctx)
			}
			t.from = []models.RunState{models.RunStateRunning, models.RunStateStopping}
			t.reason = reasonInterruptRunning
		default:
			t.from = []models.RunState{models.RunStateStarting, models.RunStateCancelling}
			t.reason = reasonInterruptStarting
		}

		if c.submit(ctx, t) || ctx.Err() != nil {
			break
		}
		// The state moved between reading it and submitting; try again.
	}

	select {
	case <-c.finished:
	case <-ctx.Done():
		slog.Warn("Interrupt deadline reached before run finished", "component", "runctl")
	}
}

// enqueueStop gets half of what is left of ctx so a slow queue still leaves
// time to cancel the run.
func (c *Controller) enqueueStop(ctx context.Context) {
	budget := c.cfg.InterruptDeadline / 2
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline) / 2
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := c.cfg.Requests.Enqueue(ctx, models.ServerRequest{Type: models.RequestTypeStop}); err != nil {
		slog.Warn("Failed to queue stop request", "component", "runctl", "error", err)
		return
	}
	slog.Info("Queued stop request for server", "component", "runctl")
}

// watchExit cancels a startup whose start command failed before the server
// appeared. A clean exit is left alone since some launchers detach the server
// and return.
func (c *Controller) watchExit(h Handle) {
	select {
	case <-h.Done():
	case <-c.finished:
		return
	}

	status := h.Status()
	if status.Success() {
		slog.Info("Start command exited cleanly", "component", "runctl")
		return
	}

	c.submit(context.Background(), transition{
		from:   []models.RunState{models.RunStateStarting},
		to:     models.RunStateCancelled,
		reason: fmt.Sprintf(reasonLauncherExitFormat, status.Code),
		err:    fmt.Errorf("%w: exit code %d", ErrLauncherExited, status.Code),
	})
}
