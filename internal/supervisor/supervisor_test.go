package supervisor_test

import (
	"context"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"roadie/internal/logging"
	"roadie/internal/supervisor"
	"roadie/internal/unit"
)

func testUnit(policy unit.RestartPolicy) *unit.Unit {
	return &unit.Unit{
		Name:        "looper-midi",
		Description: "looper MIDI controller",
		ExecStart:   []string{"/usr/local/lib/looper/midi_controller.py"},
		Restart:     policy,
		Type:        unit.TypeNotify,
		WantedBy:    "multi-user.target",
	}
}

// fakeProcess stands in for a launched controller. Its pid is the test
// process so readiness datagrams pass the listener's credential check.
type fakeProcess struct {
	pid    int
	exitCh chan supervisor.ExitStatus
	sigCh  chan os.Signal
	once   sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:    os.Getpid(),
		exitCh: make(chan supervisor.ExitStatus, 1),
		sigCh:  make(chan os.Signal, 4),
	}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Wait() supervisor.ExitStatus { return <-p.exitCh }

func (p *fakeProcess) Signal(sig os.Signal) error {
	select {
	case p.sigCh <- sig:
	default:
	}
	return nil
}

func (p *fakeProcess) exit(status supervisor.ExitStatus) {
	p.once.Do(func() { p.exitCh <- status })
}

func (p *fakeProcess) exitOnSignal() {
	sig := <-p.sigCh
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	p.exit(supervisor.ExitStatus{Code: -1, Signal: name})
}

type behavior func(p *fakeProcess, spec supervisor.LaunchSpec)

// fakeLauncher plays one scripted behavior per launch. Launches beyond the
// script get the default behavior: signal readiness, then run until
// signaled.
type fakeLauncher struct {
	mu       sync.Mutex
	script   []behavior
	launches int
}

func newFakeLauncher(script ...behavior) *fakeLauncher {
	return &fakeLauncher{script: script}
}

func (l *fakeLauncher) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	idx := l.launches
	l.launches++
	var run behavior
	if idx < len(l.script) {
		run = l.script[idx]
	}
	l.mu.Unlock()

	p := newFakeProcess()
	if run == nil {
		run = func(p *fakeProcess, spec supervisor.LaunchSpec) {
			sendReady(spec.NotifySocket)
			p.exitOnSignal()
		}
	}
	go run(p, spec)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func sendDatagram(socket, payload string) {
	if socket == "" {
		return
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: socket, Net: "unixgram"})
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write([]byte(payload))
}

func sendReady(socket string) { sendDatagram(socket, "READY=1") }

type eventRecorder struct {
	mu     sync.Mutex
	events []supervisor.Event
}

func (r *eventRecorder) sink(ev supervisor.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []supervisor.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]supervisor.Event(nil), r.events...)
}

func (r *eventRecorder) ofKind(kind supervisor.EventKind) []supervisor.Event {
	var out []supervisor.Event
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) countKind(kind supervisor.EventKind) int {
	return len(r.ofKind(kind))
}

// awaitCount polls without failing the test, safe for launcher goroutines.
func awaitCount(r *eventRecorder, kind supervisor.EventKind, n int) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.countKind(kind) >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func (r *eventRecorder) waitCount(t *testing.T, kind supervisor.EventKind, n int) {
	t.Helper()
	if !awaitCount(r, kind, n) {
		t.Fatalf("timed out waiting for %d %s events, have %d", n, kind, r.countKind(kind))
	}
}

func waitParked(t *testing.T, sup *supervisor.Supervisor) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !sup.Supervised() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("supervisor never parked")
}

func newTestSupervisor(t *testing.T, u *unit.Unit, cfg supervisor.Config, launcher *fakeLauncher, rec *eventRecorder) *supervisor.Supervisor {
	t.Helper()
	if cfg.NotifyDir == "" {
		cfg.NotifyDir = t.TempDir()
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 2 * time.Second
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 200 * time.Millisecond
	}
	sup, err := supervisor.New(u, cfg, logging.NewNop(),
		supervisor.WithLauncher(launcher),
		supervisor.WithEventSink(rec.sink),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(sup.Stop)
	return sup
}

func TestCrashAfterReadyRestarts(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		sendReady(spec.NotifySocket)
		awaitCount(rec, supervisor.EventReady, 1)
		p.exit(supervisor.ExitStatus{Code: -1, Signal: "SIGKILL"})
	})
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 2)

	if got := launcher.count(); got != 2 {
		t.Fatalf("launches = %d, want exactly 2", got)
	}
	exited := rec.ofKind(supervisor.EventExited)
	if len(exited) != 1 {
		t.Fatalf("exited events = %d, want 1", len(exited))
	}
	if exited[0].Outcome.Reason != supervisor.ReasonRuntimeCrash {
		t.Fatalf("outcome = %s, want %s", exited[0].Outcome.Reason, supervisor.ReasonRuntimeCrash)
	}
	if exited[0].Decision != supervisor.DecisionRestart {
		t.Fatalf("decision = %s, want restart", exited[0].Decision)
	}

	// The replacement is a distinct instance that signaled on its own.
	ready := rec.ofKind(supervisor.EventReady)
	if ready[0].Instance.ID == ready[1].Instance.ID {
		t.Fatal("restart reused the crashed instance")
	}
	if ready[1].Instance.Attempt != 2 {
		t.Fatalf("second instance attempt = %d, want 2", ready[1].Instance.Attempt)
	}

	sup.Stop()
	if got := launcher.count(); got != 2 {
		t.Fatalf("stop launched another instance: %d", got)
	}
}

func TestCleanExitDoesNotRestart(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		sendReady(spec.NotifySocket)
		awaitCount(rec, supervisor.EventReady, 1)
		p.exit(supervisor.ExitStatus{})
	})
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventExited, 1)
	waitParked(t, sup)

	if got := launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	exited := rec.ofKind(supervisor.EventExited)[0]
	if exited.Outcome.Reason != supervisor.ReasonGracefulShutdown {
		t.Fatalf("outcome = %s, want graceful shutdown", exited.Outcome.Reason)
	}
	if exited.Decision != supervisor.DecisionDoNotRestart {
		t.Fatalf("decision = %s, want do-not-restart", exited.Decision)
	}
}

func TestCrashBeforeReadyRestarts(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		p.exit(supervisor.ExitStatus{Code: 1})
	})
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)

	if got := launcher.count(); got != 2 {
		t.Fatalf("launches = %d, want 2", got)
	}
	exited := rec.ofKind(supervisor.EventExited)[0]
	if exited.Outcome.Reason != supervisor.ReasonStartupFailure {
		t.Fatalf("outcome = %s, want startup failure", exited.Outcome.Reason)
	}
	if exited.Outcome.TimedOut {
		t.Fatal("early crash should not be marked as a timeout")
	}
	if exited.Decision != supervisor.DecisionRestart {
		t.Fatalf("decision = %s, want restart", exited.Decision)
	}
}

func TestStartTimeoutRestarts(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		// Never signals readiness; dies once the supervisor gives up.
		p.exitOnSignal()
	})
	cfg := supervisor.Config{StartTimeout: 80 * time.Millisecond, StopTimeout: 100 * time.Millisecond}
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), cfg, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventExited, 1)

	exited := rec.ofKind(supervisor.EventExited)[0]
	if exited.Outcome.Reason != supervisor.ReasonStartupFailure {
		t.Fatalf("outcome = %s, want startup failure", exited.Outcome.Reason)
	}
	if !exited.Outcome.TimedOut {
		t.Fatal("timeout not marked on the outcome")
	}
	if exited.Decision != supervisor.DecisionRestart {
		t.Fatalf("decision = %s, want restart", exited.Decision)
	}

	// The replacement uses the default behavior and becomes ready.
	rec.waitCount(t, supervisor.EventReady, 1)
	if got := launcher.count(); got != 2 {
		t.Fatalf("launches = %d, want 2", got)
	}
}

func TestRepeatReadySignalIsNoOp(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		sendReady(spec.NotifySocket)
		sendReady(spec.NotifySocket)
		awaitCount(rec, supervisor.EventReady, 1)
		sendReady(spec.NotifySocket)
		p.exitOnSignal()
	})
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)
	time.Sleep(50 * time.Millisecond)

	if got := rec.countKind(supervisor.EventReady); got != 1 {
		t.Fatalf("ready events = %d, want exactly 1", got)
	}
	if state := sup.Snapshot().State; state != supervisor.StateRunning {
		t.Fatalf("state = %s, want running", state)
	}
}

func TestNoConcurrentInstances(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(
		func(p *fakeProcess, spec supervisor.LaunchSpec) {
			p.exit(supervisor.ExitStatus{Code: 1})
		},
		func(p *fakeProcess, spec supervisor.LaunchSpec) {
			p.exit(supervisor.ExitStatus{Code: 1})
		},
	)
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sup.Start(ctx); err == nil {
		t.Fatal("second Start should fail while supervised")
	}
	rec.waitCount(t, supervisor.EventReady, 1)
	sup.Stop()

	// Replay the event stream: a new instance may only start after the
	// previous one exited.
	live := map[string]bool{}
	for _, ev := range rec.snapshot() {
		switch ev.Kind {
		case supervisor.EventStarting:
			live[ev.Instance.ID] = true
			if len(live) > 1 {
				t.Fatalf("two live instances observed: %v", live)
			}
		case supervisor.EventExited:
			delete(live, ev.Instance.ID)
		}
	}
}

func TestStopPreventsRestart(t *testing.T) {
	for _, policy := range []unit.RestartPolicy{unit.RestartOnFailure, unit.RestartAlways} {
		t.Run(string(policy), func(t *testing.T) {
			rec := &eventRecorder{}
			launcher := newFakeLauncher()
			sup := newTestSupervisor(t, testUnit(policy), supervisor.Config{}, launcher, rec)

			if err := sup.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			rec.waitCount(t, supervisor.EventReady, 1)
			sup.Stop()

			if got := launcher.count(); got != 1 {
				t.Fatalf("launches = %d, want 1", got)
			}
			exited := rec.ofKind(supervisor.EventExited)
			if len(exited) != 1 {
				t.Fatalf("exited events = %d, want 1", len(exited))
			}
			if !exited[0].Outcome.Stopped {
				t.Fatal("stop not marked intentional")
			}
			if exited[0].Outcome.Reason != supervisor.ReasonGracefulShutdown {
				t.Fatalf("outcome = %s, want graceful shutdown", exited[0].Outcome.Reason)
			}
			if exited[0].Decision != supervisor.DecisionDoNotRestart {
				t.Fatalf("decision = %s, want do-not-restart", exited[0].Decision)
			}
			if sup.Supervised() {
				t.Fatal("supervisor still running after Stop")
			}
		})
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		sendReady(spec.NotifySocket)
		<-p.sigCh // shrug off the polite request
		<-p.sigCh
		p.exit(supervisor.ExitStatus{Code: -1, Signal: "SIGKILL"})
	})
	cfg := supervisor.Config{StopTimeout: 60 * time.Millisecond}
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), cfg, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)
	sup.Stop()

	exited := rec.ofKind(supervisor.EventExited)[0]
	if exited.Outcome.Exit.Signal != "SIGKILL" {
		t.Fatalf("exit = %+v, want SIGKILL", exited.Outcome.Exit)
	}
	if exited.Decision != supervisor.DecisionDoNotRestart {
		t.Fatalf("decision = %s, want do-not-restart", exited.Decision)
	}
}

func TestShutdownContextStopsGracefully(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher()
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)
	cancel()
	waitParked(t, sup)

	if got := launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	exited := rec.ofKind(supervisor.EventExited)[0]
	if !exited.Outcome.Stopped {
		t.Fatal("shutdown not marked intentional")
	}
	if exited.Decision != supervisor.DecisionDoNotRestart {
		t.Fatalf("decision = %s, want do-not-restart", exited.Decision)
	}
}

func TestRestartPolicyNever(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		sendReady(spec.NotifySocket)
		awaitCount(rec, supervisor.EventReady, 1)
		p.exit(supervisor.ExitStatus{Code: 2})
	})
	sup := newTestSupervisor(t, testUnit(unit.RestartNever), supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventExited, 1)
	waitParked(t, sup)

	if got := launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	exited := rec.ofKind(supervisor.EventExited)[0]
	if exited.Outcome.Reason != supervisor.ReasonRuntimeCrash {
		t.Fatalf("outcome = %s, want runtime crash", exited.Outcome.Reason)
	}
	if exited.Decision != supervisor.DecisionDoNotRestart {
		t.Fatalf("decision = %s, want do-not-restart", exited.Decision)
	}
}

func TestSimpleUnitReadyAtExec(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher()
	u := testUnit(unit.RestartOnFailure)
	u.Type = unit.TypeSimple
	sup := newTestSupervisor(t, u, supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)
	if state := sup.Snapshot().State; state != supervisor.StateRunning {
		t.Fatalf("state = %s, want running", state)
	}
}

func TestRestartDelayIsHonored(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		p.exit(supervisor.ExitStatus{Code: 1})
	})
	cfg := supervisor.Config{RestartDelay: 150 * time.Millisecond}
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), cfg, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventStarting, 2)

	exited := rec.ofKind(supervisor.EventExited)[0]
	second := rec.ofKind(supervisor.EventStarting)[1]
	gap := second.Instance.StartedAt.Sub(exited.Instance.ExitedAt)
	if gap < 100*time.Millisecond {
		t.Fatalf("restart after %s, want at least the 150ms delay", gap)
	}
}

func TestSnapshotWhileRunning(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher(func(p *fakeProcess, spec supervisor.LaunchSpec) {
		sendDatagram(spec.NotifySocket, "STATUS=loop 1 armed\nREADY=1")
		p.exitOnSignal()
	})
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)

	deadline := time.Now().Add(2 * time.Second)
	var snap supervisor.Status
	for time.Now().Before(deadline) {
		snap = sup.Snapshot()
		if snap.StatusText != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !snap.Running {
		t.Fatal("snapshot says not running")
	}
	if snap.State != supervisor.StateRunning {
		t.Fatalf("state = %s, want running", snap.State)
	}
	if snap.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", snap.PID, os.Getpid())
	}
	if snap.InstanceID == "" {
		t.Fatal("missing instance id")
	}
	if snap.StatusText != "loop 1 armed" {
		t.Fatalf("status text = %q", snap.StatusText)
	}
	if snap.ReadyAt.Before(snap.StartedAt) {
		t.Fatalf("ready %s before start %s", snap.ReadyAt, snap.StartedAt)
	}

	sup.Stop()
	snap = sup.Snapshot()
	if snap.Running {
		t.Fatal("snapshot still running after stop")
	}
	if snap.State != supervisor.StateExited {
		t.Fatalf("state = %s, want exited", snap.State)
	}
	if snap.LastReason != supervisor.ReasonGracefulShutdown {
		t.Fatalf("last reason = %s, want graceful shutdown", snap.LastReason)
	}
}

func TestRestartMethod(t *testing.T) {
	rec := &eventRecorder{}
	launcher := newFakeLauncher()
	sup := newTestSupervisor(t, testUnit(unit.RestartOnFailure), supervisor.Config{}, launcher, rec)

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 1)
	if err := sup.Restart(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	rec.waitCount(t, supervisor.EventReady, 2)

	if got := launcher.count(); got != 2 {
		t.Fatalf("launches = %d, want 2", got)
	}
	exited := rec.ofKind(supervisor.EventExited)[0]
	if !exited.Outcome.Stopped {
		t.Fatal("restart's stop phase not marked intentional")
	}
}
