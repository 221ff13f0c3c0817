package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"roadie/internal/devwatch"
	"roadie/internal/logging"
	"roadie/internal/logs"
	"roadie/internal/supervisor"
	"roadie/internal/unit"
)

// managedUnit pairs one unit definition with its supervisor and output log.
type managedUnit struct {
	def     *unit.Unit
	sup     *supervisor.Supervisor
	capture *logs.Capture

	// stale marks a supervised unit whose on-disk definition changed; the
	// new definition takes effect at the next restart. Guarded by the
	// daemon mutex.
	stale bool
}

// newManagedUnit builds the supervision wiring for one unit definition.
func (d *Daemon) newManagedUnit(def *unit.Unit) (*managedUnit, error) {
	capture, err := logs.NewCapture(d.cfg.UnitLogDir(), def.Name)
	if err != nil {
		return nil, fmt.Errorf("unit %s: open output log: %w", def.Name, err)
	}
	m := &managedUnit{def: def, capture: capture}

	supCfg := supervisor.Config{
		StartTimeout: def.StartTimeout(d.cfg.StartTimeout()),
		StopTimeout:  def.StopTimeout(d.cfg.StopTimeout()),
		RestartDelay: d.cfg.RestartDelay(),
		NotifyDir:    d.cfg.NotifySocketDir(),
	}
	opts := []supervisor.Option{
		supervisor.WithEventSink(d.unitEventSink(m)),
		supervisor.WithOutputSink(func(stream, line string) { d.captureLine(m, stream, line) }),
	}
	if def.Device != "" {
		opts = append(opts, supervisor.WithGate(devwatch.NewWaiter(def.Device, d.cfg.DevicePollInterval(), d.logger)))
	}

	sup, err := supervisor.New(def, supCfg, d.logger, opts...)
	if err != nil {
		_ = capture.Close()
		return nil, err
	}
	m.sup = sup
	return m, nil
}

// adoptLocked builds and starts supervision for def. The caller holds the
// daemon mutex.
func (d *Daemon) adoptLocked(def *unit.Unit) error {
	fresh, err := d.newManagedUnit(def)
	if err != nil {
		return err
	}
	if err := fresh.sup.Start(d.ctx); err != nil {
		_ = fresh.capture.Close()
		return err
	}
	d.managed[def.Name] = fresh
	return nil
}

// startFresh begins supervising def, replacing any parked entry for the
// same unit. A unit with a live instance is never replaced.
func (d *Daemon) startFresh(def *unit.Unit) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return errors.New("daemon not running")
	}
	old := d.managed[def.Name]
	if old != nil && old.sup.Supervised() {
		return fmt.Errorf("unit %s is already running", def.Name)
	}
	if err := d.adoptLocked(def); err != nil {
		return err
	}
	if old != nil {
		_ = old.capture.Close()
	}
	return nil
}

// StartUnit begins supervising the named unit using its current on-disk
// definition. Starting a unit that already has a live instance is an
// error: a unit never has two.
func (d *Daemon) StartUnit(ctx context.Context, name string) error {
	def, err := d.units.Load(name)
	if err != nil {
		return err
	}
	if err := d.startFresh(def); err != nil {
		return err
	}
	d.logger.Info("unit started", logging.String(logging.FieldUnit, name))
	return nil
}

// StopUnit gracefully stops the named unit and parks it. Stopping a unit
// that is not running is a no-op; an unknown name is an error.
func (d *Daemon) StopUnit(ctx context.Context, name string) error {
	d.mu.RLock()
	running := d.running
	m := d.managed[name]
	d.mu.RUnlock()

	if !running {
		return errors.New("daemon not running")
	}
	if m == nil {
		if _, err := d.units.Load(name); err != nil {
			return err
		}
		return nil
	}
	m.sup.Stop()
	d.logger.Info("unit stopped", logging.String(logging.FieldUnit, name))
	return nil
}

// RestartUnit stops the named unit if it is running and starts a fresh
// instance from the current on-disk definition. A definition edited since
// the last start takes effect here.
func (d *Daemon) RestartUnit(ctx context.Context, name string) error {
	def, err := d.units.Load(name)
	if err != nil {
		return err
	}

	d.mu.RLock()
	running := d.running
	m := d.managed[name]
	d.mu.RUnlock()
	if !running {
		return errors.New("daemon not running")
	}
	if m != nil {
		m.sup.Stop()
	}

	if err := d.startFresh(def); err != nil {
		return err
	}
	d.logger.Info("unit restarted", logging.String(logging.FieldUnit, name))
	return nil
}

// ReloadResult summarizes one reload of the units directory.
type ReloadResult struct {
	Added   []string `json:"added,omitempty"`
	Changed []string `json:"changed,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether the reload found nothing to do.
func (r ReloadResult) Empty() bool {
	return len(r.Added) == 0 && len(r.Changed) == 0 && len(r.Removed) == 0
}

// ReloadUnits re-reads the units directory. New units begin supervision,
// units whose files were removed are stopped and dropped, and changed
// definitions are swapped in for parked units. A changed unit with a live
// instance keeps its old definition until restarted.
func (d *Daemon) ReloadUnits(ctx context.Context) (ReloadResult, error) {
	defs, problems := d.units.List()
	for _, problem := range problems {
		d.logger.Warn("skipping invalid unit file", logging.Error(problem))
	}

	var result ReloadResult
	var retired []*managedUnit

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ReloadResult{}, errors.New("daemon not running")
	}
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		seen[def.Name] = struct{}{}
		m := d.managed[def.Name]
		switch {
		case m == nil:
			if err := d.adoptLocked(def); err != nil {
				d.logger.Warn("unit unavailable",
					logging.String(logging.FieldUnit, def.Name),
					logging.Error(err),
				)
				continue
			}
			result.Added = append(result.Added, def.Name)
		case definitionChanged(m.def, def):
			if m.sup.Supervised() {
				m.stale = true
				d.logger.Info("unit definition changed, restart to apply",
					logging.String(logging.FieldUnit, def.Name),
				)
			} else {
				fresh, err := d.newManagedUnit(def)
				if err != nil {
					d.logger.Warn("unit unavailable",
						logging.String(logging.FieldUnit, def.Name),
						logging.Error(err),
					)
					continue
				}
				d.managed[def.Name] = fresh
				retired = append(retired, m)
			}
			result.Changed = append(result.Changed, def.Name)
		}
	}
	for name, m := range d.managed {
		if _, ok := seen[name]; ok {
			continue
		}
		delete(d.managed, name)
		retired = append(retired, m)
		result.Removed = append(result.Removed, name)
	}
	d.mu.Unlock()

	for _, m := range retired {
		m.sup.Stop()
		_ = m.capture.Close()
	}

	sort.Strings(result.Added)
	sort.Strings(result.Changed)
	sort.Strings(result.Removed)
	if !result.Empty() {
		d.logger.Info("units reloaded",
			logging.Int("added", len(result.Added)),
			logging.Int("changed", len(result.Changed)),
			logging.Int("removed", len(result.Removed)),
		)
	}
	return result, nil
}

// onUnitsChanged runs after the unit watcher's debounce window closes.
func (d *Daemon) onUnitsChanged() {
	if _, err := d.ReloadUnits(context.Background()); err != nil {
		d.logger.Warn("unit reload failed", logging.Error(err))
	}
}

// definitionChanged compares two definitions through their encoded forms.
func definitionChanged(a, b *unit.Unit) bool {
	encodedA, errA := unit.Encode(a)
	encodedB, errB := unit.Encode(b)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(encodedA, encodedB)
}
