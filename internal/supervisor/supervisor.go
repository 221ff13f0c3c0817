package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roadie/internal/logging"
	"roadie/internal/notify"
	"roadie/internal/unit"
)

const (
	defaultStartTimeout = 90 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

// Config carries the resolved supervision settings for one unit. The
// daemon resolves per-unit overrides against its defaults before
// construction.
type Config struct {
	StartTimeout time.Duration
	StopTimeout  time.Duration
	RestartDelay time.Duration
	NotifyDir    string
}

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventStarting EventKind = "starting"
	EventReady    EventKind = "ready"
	EventExited   EventKind = "exited"
)

// Event is a lifecycle transition published to the daemon's sinks.
// Exited events carry the outcome and the restart decision.
type Event struct {
	Kind     EventKind
	Unit     string
	Instance Instance
	Outcome  *Outcome
	Decision Decision
}

// EventSink receives lifecycle events. Sinks run on the supervision
// goroutine and should hand work off quickly.
type EventSink func(Event)

// Gate blocks a launch until a precondition holds, such as the
// controller's MIDI device node existing. Implementations honor ctx
// cancellation.
type Gate interface {
	Wait(ctx context.Context) error
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithLauncher substitutes the process launcher, primarily for tests.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.launcher = l
		}
	}
}

// WithGate installs a launch precondition checked before every attempt.
func WithGate(g Gate) Option {
	return func(s *Supervisor) { s.gate = g }
}

// WithEventSink installs the lifecycle event receiver.
func WithEventSink(sink EventSink) Option {
	return func(s *Supervisor) { s.events = sink }
}

// WithOutputSink routes captured process output lines. Without a sink,
// lines surface on the supervisor's logger at debug level.
func WithOutputSink(sink func(stream, line string)) Option {
	return func(s *Supervisor) { s.output = sink }
}

// Supervisor owns the lifecycle of exactly one unit. The unit definition
// is passed in explicitly and never read from ambient state.
type Supervisor struct {
	unit     *unit.Unit
	cfg      Config
	logger   *slog.Logger
	launcher Launcher
	gate     Gate
	events   EventSink
	output   func(stream, line string)

	mu          sync.Mutex
	running     bool
	stopping    bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	current     *Instance
	proc        Process
	listener    *notify.Listener
	attempts    int
	lastOutcome *Outcome
}

// New builds a supervisor for one unit.
func New(u *unit.Unit, cfg Config, logger *slog.Logger, opts ...Option) (*Supervisor, error) {
	if u == nil {
		return nil, errors.New("unit required")
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.RestartDelay < 0 {
		cfg.RestartDelay = 0
	}
	if u.Type == unit.TypeNotify && cfg.NotifyDir == "" {
		return nil, fmt.Errorf("unit %s: notify units need a notify socket directory", u.Name)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Supervisor{
		unit:     u,
		cfg:      cfg,
		logger:   logging.WithUnit(logging.NewComponentLogger(logger, "supervisor"), u.Name),
		launcher: NewExecLauncher(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Unit returns the supervised unit definition.
func (s *Supervisor) Unit() *unit.Unit { return s.unit }

// Start begins supervision. It fails if the unit is already supervised: a
// unit never has concurrent live instances.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("unit %s already supervised", s.unit.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stopping = false
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop requests a graceful shutdown of the current instance and parks the
// supervisor. The exit is treated as intentional: no restart follows,
// regardless of policy. Stop returns once supervision has ended.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Restart stops the current instance and begins a fresh supervision run.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Supervised reports whether the supervision loop is active.
func (s *Supervisor) Supervised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
