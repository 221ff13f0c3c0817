package supervisor

import (
	"time"

	"roadie/internal/unit"
)

// Status is a point-in-time view of one unit's supervision.
type Status struct {
	Unit         string             `json:"unit"`
	Running      bool               `json:"running"`
	State        State              `json:"state,omitempty"`
	InstanceID   string             `json:"instance_id,omitempty"`
	PID          int                `json:"pid,omitempty"`
	Attempt      int                `json:"attempt,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	ReadyAt      time.Time          `json:"ready_at"`
	Uptime       time.Duration      `json:"uptime,omitempty"`
	ReadyLatency time.Duration      `json:"ready_latency,omitempty"`
	StatusText   string             `json:"status_text,omitempty"`
	Restart      unit.RestartPolicy `json:"restart"`
	LastReason   Reason             `json:"last_reason,omitempty"`
	LastExit     string             `json:"last_exit,omitempty"`
}

// Snapshot reports the current supervision state.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Unit:    s.unit.Name,
		Running: s.running,
		Restart: s.unit.Restart,
		Attempt: s.attempts,
	}
	if s.lastOutcome != nil {
		st.LastReason = s.lastOutcome.Reason
		st.LastExit = s.lastOutcome.Describe()
	}
	if s.current != nil {
		st.State = s.current.State
		st.InstanceID = s.current.ID
		st.Attempt = s.current.Attempt
		st.StartedAt = s.current.StartedAt
		st.ReadyAt = s.current.ReadyAt
		st.ReadyLatency = s.current.ReadyLatency()
		if s.current.State != StateExited {
			st.PID = s.current.PID
			st.Uptime = time.Since(s.current.StartedAt)
		}
	}
	if s.listener != nil {
		st.StatusText = s.listener.Status()
	}
	return st
}
