package runctl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/supervisor"
)

const serverPID = 4242

var errTornRead = errors.New("state file is half written")

type fakeHandle struct {
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	status supervisor.ExitStatus

	terminates atomic.Int32
	waits      atomic.Int32
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return 100 }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Status() supervisor.ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) exit(code int) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.status = supervisor.ExitStatus{Code: code}
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) Terminate() {
	h.terminates.Add(1)
	h.exit(-1)
}

func (h *fakeHandle) TerminateAndWait(ctx context.Context) supervisor.ExitStatus {
	h.waits.Add(1)
	h.Terminate()
	return h.Status()
}

type fakeLauncher struct {
	handle   *fakeHandle
	startErr error
	stops    atomic.Int32
	// stopGate, when set, blocks Stop until it is closed.
	stopGate chan struct{}
	// startDelay makes Start take this long, like a slow spawn.
	startDelay time.Duration
}

func (l *fakeLauncher) Start(ctx context.Context, out supervisor.Sink) (Handle, error) {
	if l.startDelay > 0 {
		time.Sleep(l.startDelay)
	}
	if l.startErr != nil {
		return nil, l.startErr
	}
	return l.handle, nil
}

func (l *fakeLauncher) Stop(ctx context.Context, out supervisor.Sink) error {
	l.stops.Add(1)
	if l.stopGate != nil {
		<-l.stopGate
	}
	return nil
}

type fakeStore struct {
	mu   sync.Mutex
	snap models.ServerSnapshot
	ok   bool
	err  error
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) set(snap models.ServerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.ok = snap, true
}

func (s *fakeStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.ok = models.ServerSnapshot{}, false
}

func (s *fakeStore) Read() (models.ServerSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.ServerSnapshot{}, false, s.err
	}
	return s.snap, s.ok, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	reqs []models.ServerRequest
	// block makes Enqueue wait for its context to end.
	block bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, req models.ServerRequest) error {
	if q.block {
		<-ctx.Done()
		return ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *fakeQueue) pending() []models.ServerRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.ServerRequest(nil), q.reqs...)
}

type harness struct {
	ctrl     *Controller
	launcher *fakeLauncher
	store    *fakeStore
	queue    *fakeQueue
	dead     atomic.Bool

	mu      sync.Mutex
	updates []Update

	result chan Update
}

func newHarness(t *testing.T, env models.Environment) *harness {
	t.Helper()
	h := &harness{
		launcher: &fakeLauncher{handle: newFakeHandle()},
		store:    &fakeStore{},
		queue:    &fakeQueue{},
		result:   make(chan Update, 1),
	}
	h.ctrl = New(Config{
		Env:      env,
		State:    h.store,
		Requests: h.queue,
		Launcher: h.launcher,
		Alive: func(pid int) bool {
			return pid == serverPID && !h.dead.Load()
		},
		OnUpdate: func(u Update) {
			h.mu.Lock()
			h.updates = append(h.updates, u)
			h.mu.Unlock()
		},
		StartPollInterval:   10 * time.Millisecond,
		RunningPollInterval: 10 * time.Millisecond,
		InterruptDeadline:   400 * time.Millisecond,
	})
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.result <- h.ctrl.Run(ctx) }()
}

func (h *harness) states() []models.RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	var states []models.RunState
	for _, u := range h.updates {
		states = append(states, u.State)
	}
	return states
}

func (h *harness) waitState(t *testing.T, want models.RunState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ctrl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, still %s", want, h.ctrl.State())
}

func (h *harness) wait(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-h.result:
		return u
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not finish, state %s", h.ctrl.State())
		return Update{}
	}
}

func devSnapshot() models.ServerSnapshot {
	return models.ServerSnapshot{Env: models.EnvDev, Port: 8080, PID: serverPID, Running: true}
}

func TestStartingWithoutServerStateStaysStarting(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	time.Sleep(100 * time.Millisecond)
	if state := h.ctrl.State(); state != models.RunStateStarting {
		t.Fatalf("expected starting, got %s", state)
	}
	if states := h.states(); len(states) != 1 {
		t.Fatalf("expected only the initial update, got %v", states)
	}

	h.ctrl.Cancel()
	h.ctrl.Cancel()
	u := h.wait(t)

	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if !errors.Is(u.Err, ErrUserCancelled) {
		t.Fatalf("expected user cancelled error, got: %v", u.Err)
	}
	if u.Reason != reasonUserQuit {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}
	if got := h.launcher.handle.waits.Load(); got != 1 {
		t.Fatalf("expected one teardown, got %d", got)
	}
	if got := h.launcher.stops.Load(); got != 0 {
		t.Fatalf("cancelling a startup must not run the stop command, ran %d times", got)
	}

	states := h.states()
	want := []models.RunState{models.RunStateStarting, models.RunStateCancelling, models.RunStateCancelled}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, states)
		}
	}
}

func TestStartingIgnoresUnusableSnapshots(t *testing.T) {
	h := newHarness(t, models.EnvDev)

	notRunning := devSnapshot()
	notRunning.Running = false
	h.store.set(notRunning)
	h.start(context.Background())

	time.Sleep(60 * time.Millisecond)
	if state := h.ctrl.State(); state != models.RunStateStarting {
		t.Fatalf("expected starting with a non-running snapshot, got %s", state)
	}

	deadPID := devSnapshot()
	deadPID.PID = serverPID + 1
	h.store.set(deadPID)

	time.Sleep(60 * time.Millisecond)
	if state := h.ctrl.State(); state != models.RunStateStarting {
		t.Fatalf("expected starting with a dead pid, got %s", state)
	}

	h.ctrl.Cancel()
	h.wait(t)
}

func TestStartStopGracefully(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	snap := devSnapshot()
	h.store.set(snap)
	h.waitState(t, models.RunStateRunning)

	if got := h.ctrl.Current().Snapshot; got != snap {
		t.Fatalf("expected captured snapshot %+v, got %+v", snap, got)
	}

	h.ctrl.Cancel()
	u := h.wait(t)

	if u.State != models.RunStateStopped {
		t.Fatalf("expected stopped, got %s (%s)", u.State, u.Reason)
	}
	if u.Err != nil {
		t.Fatalf("expected no error, got: %v", u.Err)
	}
	if u.Snapshot != snap {
		t.Fatalf("snapshot changed after running: %+v", u.Snapshot)
	}
	if got := h.launcher.stops.Load(); got != 1 {
		t.Fatalf("expected stop command to run once, ran %d times", got)
	}
	if got := h.launcher.handle.waits.Load(); got != 1 {
		t.Fatalf("expected start command to be awaited once, got %d", got)
	}
}

func TestEnvironmentConflictCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)

	prod := devSnapshot()
	prod.Env = models.EnvProd
	h.store.set(prod)
	h.start(context.Background())

	u := h.wait(t)
	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if !errors.Is(u.Err, ErrEnvironmentConflict) {
		t.Fatalf("expected environment conflict, got: %v", u.Err)
	}
	if !strings.Contains(u.Reason, "want = DEV, current = PROD") {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}
	if h.launcher.handle.terminates.Load() == 0 {
		t.Fatal("expected start command to be terminated")
	}
}

func TestDoubleStopTearsDownOnce(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.launcher.stopGate = make(chan struct{})
	h.start(context.Background())

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ctrl.Cancel()
		}()
	}
	wg.Wait()

	h.waitState(t, models.RunStateStopping)
	close(h.launcher.stopGate)

	u := h.wait(t)
	if u.State != models.RunStateStopped {
		t.Fatalf("expected stopped, got %s", u.State)
	}
	if got := h.launcher.stops.Load(); got != 1 {
		t.Fatalf("expected one stop command, got %d", got)
	}
	if got := h.launcher.handle.waits.Load(); got != 1 {
		t.Fatalf("expected one teardown, got %d", got)
	}
}

func TestStateChangeWhileRunningCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	snap := devSnapshot()
	h.store.set(snap)
	h.waitState(t, models.RunStateRunning)

	replaced := snap
	replaced.Port = 9090
	h.store.set(replaced)

	u := h.wait(t)
	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if !errors.Is(u.Err, ErrStoppedExternally) {
		t.Fatalf("expected stopped externally, got: %v", u.Err)
	}
	if u.Reason != reasonStoppedExternally {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}
	if u.Snapshot != snap {
		t.Fatalf("expected captured snapshot to be kept, got %+v", u.Snapshot)
	}
}

func TestStateRemovedWhileRunningCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)
	h.store.clear()

	if u := h.wait(t); !errors.Is(u.Err, ErrStoppedExternally) {
		t.Fatalf("expected stopped externally, got %s: %v", u.State, u.Err)
	}
}

func TestReadErrorsWhileRunningAreIgnored(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	snap := devSnapshot()
	h.store.set(snap)
	h.waitState(t, models.RunStateRunning)

	h.store.setErr(errTornRead)
	time.Sleep(100 * time.Millisecond)
	if got := h.ctrl.State(); got != models.RunStateRunning {
		t.Fatalf("expected read errors to be ignored while running, got %s", got)
	}

	replaced := snap
	replaced.Port = 9090
	h.store.set(replaced)
	h.store.setErr(nil)

	if u := h.wait(t); !errors.Is(u.Err, ErrStoppedExternally) {
		t.Fatalf("expected stopped externally once reads recover, got %s: %v", u.State, u.Err)
	}
}

func TestReadErrorsWhileStartingAreIgnored(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.store.setErr(errTornRead)
	h.start(context.Background())

	time.Sleep(100 * time.Millisecond)
	if got := h.ctrl.State(); got != models.RunStateStarting {
		t.Fatalf("expected read errors to be ignored while starting, got %s", got)
	}

	h.store.set(devSnapshot())
	h.store.setErr(nil)
	h.waitState(t, models.RunStateRunning)

	h.ctrl.Cancel()
	if u := h.wait(t); u.State != models.RunStateStopped {
		t.Fatalf("expected stopped, got %s", u.State)
	}
}

func TestServerDeathWhileRunningCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)
	h.dead.Store(true)

	if u := h.wait(t); !errors.Is(u.Err, ErrStoppedExternally) {
		t.Fatalf("expected stopped externally, got %s: %v", u.State, u.Err)
	}
}

func TestInterruptWhileRunningQueuesStop(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)

	start := time.Now()
	h.ctrl.Interrupt()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("interrupt took too long: %s", elapsed)
	}

	u := h.wait(t)
	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if !errors.Is(u.Err, ErrForcedExit) {
		t.Fatalf("expected forced exit, got: %v", u.Err)
	}
	if u.Reason != reasonInterruptRunning {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}

	reqs := h.queue.pending()
	if len(reqs) != 1 || reqs[0].Type != models.RequestTypeStop {
		t.Fatalf("expected one stop request, got %v", reqs)
	}
	if got := h.launcher.stops.Load(); got != 0 {
		t.Fatalf("interrupt must not run the stop command, ran %d times", got)
	}
}

func TestInterruptWhileStartingCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())
	time.Sleep(30 * time.Millisecond)

	h.ctrl.Interrupt()
	u := h.wait(t)

	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if u.Reason != reasonInterruptStarting {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}
	if reqs := h.queue.pending(); len(reqs) != 0 {
		t.Fatalf("expected no stop request while starting, got %v", reqs)
	}
	if h.launcher.handle.terminates.Load() == 0 {
		t.Fatal("expected start command to be terminated")
	}
}

func TestInterruptWhileLaunchingTerminatesStartCommand(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.launcher.startDelay = 150 * time.Millisecond
	h.start(context.Background())
	time.Sleep(20 * time.Millisecond)

	h.ctrl.Interrupt()
	u := h.wait(t)

	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if h.launcher.handle.terminates.Load() == 0 {
		t.Fatal("expected start command launched during interrupt to be terminated")
	}
}

func TestInterruptWhileStopping(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.launcher.stopGate = make(chan struct{})
	defer close(h.launcher.stopGate)
	h.start(context.Background())

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)
	h.ctrl.Cancel()
	h.waitState(t, models.RunStateStopping)

	h.ctrl.Interrupt()
	u := h.wait(t)

	if u.State != models.RunStateCancelled || u.Reason != reasonInterruptRunning {
		t.Fatalf("expected interrupt cancel, got %s: %q", u.State, u.Reason)
	}
	if reqs := h.queue.pending(); len(reqs) != 1 {
		t.Fatalf("expected one stop request, got %v", reqs)
	}
}

func TestInterruptWithStuckQueueStillCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.queue.block = true
	h.start(context.Background())

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)

	start := time.Now()
	h.ctrl.Interrupt()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("interrupt exceeded its deadline: %s", elapsed)
	}

	if u := h.wait(t); u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
}

func TestInterruptAfterFinishIsNoop(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())
	h.ctrl.Cancel()
	first := h.wait(t)

	h.ctrl.Interrupt()
	if got := h.ctrl.Current(); got.State != first.State || got.Reason != first.Reason {
		t.Fatalf("expected terminal update to stay %+v, got %+v", first, got)
	}
}

func TestSpawnFailureCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.launcher.startErr = &supervisor.SpawnError{Command: "./gradlew", Err: errors.New("no such file or directory")}
	h.start(context.Background())

	u := h.wait(t)
	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	var spawnErr *supervisor.SpawnError
	if !errors.As(u.Err, &spawnErr) {
		t.Fatalf("expected spawn error, got: %v", u.Err)
	}
	if !strings.HasPrefix(u.Reason, "Could not start server process: ") {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}
}

func TestLauncherFailureWhileStartingCancels(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	h.launcher.handle.exit(1)

	u := h.wait(t)
	if !errors.Is(u.Err, ErrLauncherExited) {
		t.Fatalf("expected launcher exit error, got: %v", u.Err)
	}
	if !strings.Contains(u.Reason, "code 1") {
		t.Fatalf("unexpected reason: %q", u.Reason)
	}
}

func TestLauncherCleanExitKeepsPolling(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	h.start(context.Background())

	h.launcher.handle.exit(0)
	time.Sleep(50 * time.Millisecond)
	if state := h.ctrl.State(); state != models.RunStateStarting {
		t.Fatalf("expected starting after clean launcher exit, got %s", state)
	}

	h.store.set(devSnapshot())
	h.waitState(t, models.RunStateRunning)
	h.ctrl.Cancel()
	h.wait(t)
}

func TestContextCancelEndsRun(t *testing.T) {
	h := newHarness(t, models.EnvDev)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	u := h.wait(t)
	if u.State != models.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", u.State)
	}
	if !errors.Is(u.Err, context.Canceled) {
		t.Fatalf("expected context canceled, got: %v", u.Err)
	}
}
