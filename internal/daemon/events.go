package daemon

import (
	"context"
	"time"

	"roadie/internal/history"
	"roadie/internal/logging"
	"roadie/internal/supervisor"
)

// historyWriteTimeout bounds one history upsert from the event path.
const historyWriteTimeout = 5 * time.Second

// unitEventSink adapts one unit's lifecycle events into history rows,
// unit-log markers, and push notifications. Sinks run on the supervision
// goroutine, so slow work is handed off through notifyAsync.
func (d *Daemon) unitEventSink(m *managedUnit) supervisor.EventSink {
	return func(ev supervisor.Event) {
		d.recordHistory(ev)
		switch ev.Kind {
		case supervisor.EventStarting:
			d.note(m, "instance %s starting (attempt %d, pid %d)",
				ev.Instance.ID, ev.Instance.Attempt, ev.Instance.PID)
		case supervisor.EventReady:
			latency := ev.Instance.ReadyLatency()
			d.note(m, "instance %s ready after %s",
				ev.Instance.ID, latency.Round(time.Millisecond))
			attempt := ev.Instance.Attempt
			unitName := ev.Unit
			d.notifyAsync("unit ready", func(ctx context.Context) error {
				return d.notifier.NotifyUnitReady(ctx, unitName, attempt, latency)
			})
		case supervisor.EventExited:
			d.handleExit(m, ev)
		}
	}
}

func (d *Daemon) handleExit(m *managedUnit, ev supervisor.Event) {
	if ev.Outcome == nil {
		return
	}
	outcome := *ev.Outcome
	d.note(m, "instance %s exited: %s (%s)",
		ev.Instance.ID, outcome.Describe(), ev.Decision)

	unitName := ev.Unit
	if outcome.Reason == supervisor.ReasonGracefulShutdown {
		d.notifyAsync("unit stopped", func(ctx context.Context) error {
			return d.notifier.NotifyUnitStopped(ctx, unitName)
		})
		return
	}
	label := failureLabel(outcome.Reason)
	detail := outcome.Describe()
	restarting := ev.Decision == supervisor.DecisionRestart
	d.notifyAsync("unit failure", func(ctx context.Context) error {
		return d.notifier.NotifyUnitFailure(ctx, unitName, label, detail, restarting)
	})
}

func failureLabel(reason supervisor.Reason) string {
	switch reason {
	case supervisor.ReasonStartupFailure:
		return "startup failure"
	case supervisor.ReasonRuntimeCrash:
		return "runtime crash"
	default:
		return string(reason)
	}
}

// recordHistory mirrors the event's instance snapshot into the history
// store.
func (d *Daemon) recordHistory(ev supervisor.Event) {
	rec := history.Record{
		InstanceID: ev.Instance.ID,
		Unit:       ev.Unit,
		Attempt:    ev.Instance.Attempt,
		PID:        ev.Instance.PID,
		State:      string(ev.Instance.State),
		StartedAt:  ev.Instance.StartedAt,
	}
	if !ev.Instance.ReadyAt.IsZero() {
		readyAt := ev.Instance.ReadyAt
		rec.ReadyAt = &readyAt
	}
	if !ev.Instance.ExitedAt.IsZero() {
		exitedAt := ev.Instance.ExitedAt
		rec.ExitedAt = &exitedAt
	}
	if ev.Outcome != nil {
		rec.Outcome = string(ev.Outcome.Reason)
		rec.ExitDescription = ev.Outcome.Describe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := d.history.Upsert(ctx, rec); err != nil {
		d.logger.Warn("history record failed",
			logging.String(logging.FieldUnit, ev.Unit),
			logging.String(logging.FieldInstance, ev.Instance.ID),
			logging.Error(err),
		)
	}
}

func (d *Daemon) note(m *managedUnit, format string, args ...any) {
	if err := m.capture.Note(format, args...); err != nil {
		d.logger.Warn("unit log note failed",
			logging.String(logging.FieldUnit, m.def.Name),
			logging.Error(err),
		)
	}
}

func (d *Daemon) captureLine(m *managedUnit, stream, line string) {
	if err := m.capture.Write(stream, line); err != nil {
		d.logger.Warn("unit log write failed",
			logging.String(logging.FieldUnit, m.def.Name),
			logging.Error(err),
		)
	}
}
