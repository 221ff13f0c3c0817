package daemon

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"roadie/internal/history"
	"roadie/internal/logs"
	"roadie/internal/supervisor"
	"roadie/internal/unit"
)

// Status represents daemon runtime information.
type Status struct {
	Running       bool          `json:"running"`
	PID           int           `json:"pid"`
	StartedAt     time.Time     `json:"started_at"`
	Uptime        time.Duration `json:"uptime,omitempty"`
	UnitsDir      string        `json:"units_dir"`
	HistoryDBPath string        `json:"history_db_path"`
	LockFilePath  string        `json:"lock_file_path"`
	SocketPath    string        `json:"socket_path"`
	Units         []UnitStatus  `json:"units,omitempty"`
}

// UnitStatus couples a supervision snapshot with the unit's declarative
// details.
type UnitStatus struct {
	supervisor.Status
	Description string `json:"description,omitempty"`
	Device      string `json:"device,omitempty"`
	LogPath     string `json:"log_path,omitempty"`
	Stale       bool   `json:"stale,omitempty"`
}

// Status returns the current daemon status with one entry per managed
// unit, sorted by unit name.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Running:       d.running,
		PID:           os.Getpid(),
		UnitsDir:      d.units.Dir(),
		HistoryDBPath: d.cfg.HistoryDBPath(),
		LockFilePath:  d.lockPath,
		SocketPath:    d.cfg.SocketPath(),
	}
	if d.running {
		st.StartedAt = d.startedAt
		st.Uptime = time.Since(d.startedAt)
	}
	for _, m := range d.managed {
		st.Units = append(st.Units, UnitStatus{
			Status:      m.sup.Snapshot(),
			Description: m.def.Description,
			Device:      m.def.Device,
			LogPath:     m.capture.Path(),
			Stale:       m.stale,
		})
	}
	sort.Slice(st.Units, func(i, j int) bool { return st.Units[i].Unit < st.Units[j].Unit })
	return st
}

// UnitHistory returns recent instance records, newest first. An empty
// unit name covers all units.
func (d *Daemon) UnitHistory(ctx context.Context, unitName string, limit int) ([]*history.Record, error) {
	if d.history == nil {
		return nil, errors.New("history store unavailable")
	}
	return d.history.Recent(ctx, unitName, limit)
}

// HistoryStats returns per-unit attempt and failure aggregates.
func (d *Daemon) HistoryStats(ctx context.Context) ([]history.UnitStats, error) {
	if d.history == nil {
		return nil, errors.New("history store unavailable")
	}
	return d.history.Stats(ctx)
}

// TailUnitLog reads from the named unit's captured output log.
func (d *Daemon) TailUnitLog(ctx context.Context, name string, opts logs.TailOptions) (logs.TailResult, error) {
	if err := unit.ValidateName(name); err != nil {
		return logs.TailResult{}, err
	}
	return logs.Tail(ctx, logs.UnitLogPath(d.cfg.UnitLogDir(), name), opts)
}

// TailDaemonLog reads from the daemon's own log file.
func (d *Daemon) TailDaemonLog(ctx context.Context, opts logs.TailOptions) (logs.TailResult, error) {
	return logs.Tail(ctx, d.cfg.DaemonLogPath(), opts)
}
