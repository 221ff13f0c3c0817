package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"roadie/internal/config"
	"roadie/internal/history"
	"roadie/internal/logging"
	"roadie/internal/notifications"
	"roadie/internal/unit"
)

// unitWatchDebounce coalesces editor write bursts on the units directory
// into a single reload.
const unitWatchDebounce = time.Second

// notifyTimeout bounds one push notification attempt.
const notifyTimeout = 15 * time.Second

// Daemon supervises every installed unit and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	units    *unit.Store
	history  *history.Store
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	notifyWG sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	watcher   *unit.Watcher
	managed   map[string]*managedUnit
}

// Option configures optional Daemon behavior.
type Option func(*Daemon)

// WithNotifier substitutes the notification service, primarily for tests.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, units *unit.Store, hist *history.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || units == nil || hist == nil || logger == nil {
		return nil, errors.New("daemon requires config, unit store, history store, and logger")
	}

	lockPath := cfg.LockFilePath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		units:    units,
		history:  hist,
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		managed:  make(map[string]*managedUnit),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock and begins supervising every installed
// unit. Unit files that fail to load are skipped with a warning so one
// broken definition cannot keep the rest down.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return errors.New("another roadie daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	defs, problems := d.units.List()
	for _, problem := range problems {
		d.logger.Warn("skipping invalid unit file", logging.Error(problem))
	}
	for _, def := range defs {
		if err := d.adoptLocked(def); err != nil {
			d.logger.Warn("unit unavailable",
				logging.String(logging.FieldUnit, def.Name),
				logging.Error(err),
			)
		}
	}

	if watcher, err := unit.NewWatcher(d.units.Dir(), unitWatchDebounce, d.onUnitsChanged, d.logger); err != nil {
		d.logger.Warn("unit watcher unavailable", logging.Error(err))
	} else if err := watcher.Start(d.ctx); err != nil {
		d.logger.Warn("unit watcher unavailable", logging.Error(err))
		_ = watcher.Close()
	} else {
		d.watcher = watcher
	}

	d.running = true
	d.startedAt = time.Now().UTC()
	d.logger.Info("roadie daemon started",
		logging.Int("units", len(d.managed)),
		logging.String("lock", d.lockPath),
	)

	count := len(d.managed)
	d.notifyAsync("daemon started", func(ctx context.Context) error {
		return d.notifier.NotifyDaemonStarted(ctx, count)
	})
	return nil
}

// Stop winds down every supervised unit and releases the daemon lock.
// Termination propagates to instances as a graceful shutdown: no restart
// decisions fire during teardown. Stop returns once every instance has
// exited and in-flight notifications have flushed.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	watcher := d.watcher
	startedAt := d.startedAt
	stopping := make([]*managedUnit, 0, len(d.managed))
	for _, m := range d.managed {
		stopping = append(stopping, m)
	}
	d.ctx = nil
	d.cancel = nil
	d.watcher = nil
	d.managed = make(map[string]*managedUnit)
	d.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			d.logger.Warn("unit watcher close failed", logging.Error(err))
		}
	}

	// Cancel first so every supervisor begins terminating at once; the
	// per-unit Stop calls then wait out the stragglers.
	cancel()
	for _, m := range stopping {
		m.sup.Stop()
	}
	for _, m := range stopping {
		if err := m.capture.Close(); err != nil {
			d.logger.Warn("unit log close failed",
				logging.String(logging.FieldUnit, m.def.Name),
				logging.Error(err),
			)
		}
	}
	d.notifyWG.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}

	uptime := time.Since(startedAt)
	if err := d.notifier.NotifyDaemonStopped(context.Background(), uptime); err != nil {
		d.logger.Warn("daemon stop notification failed", logging.Error(err))
	}
	d.logger.Info("roadie daemon stopped", logging.Duration("uptime", uptime))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Running reports whether the daemon has started and not yet stopped.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// notifyAsync pushes a notification off the calling goroutine. Stop waits
// for in-flight sends before returning so shutdown never abandons one.
func (d *Daemon) notifyAsync(event string, send func(context.Context) error) {
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			d.logger.Warn("notification failed",
				logging.String("event", event),
				logging.Error(err),
			)
		}
	}()
}
