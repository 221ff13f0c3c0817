package ipc

import (
	"time"

	"roadie/internal/daemon"
)

// PingRequest probes daemon liveness.
type PingRequest struct{}

// PingResponse reports the responding daemon's PID.
type PingResponse struct {
	PID int `json:"pid"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// Status mirrors the daemon status snapshot for IPC callers.
type Status = daemon.Status

// UnitStatus mirrors the per-unit snapshot for IPC callers.
type UnitStatus = daemon.UnitStatus

// ReloadResult mirrors the daemon reload summary for IPC callers.
type ReloadResult = daemon.ReloadResult

// StartUnitRequest starts supervision of one installed unit.
type StartUnitRequest struct {
	Unit string `json:"unit"`
}

// StartUnitResponse confirms the started unit.
type StartUnitResponse struct {
	Unit string `json:"unit"`
}

// StopUnitRequest stops one supervised unit.
type StopUnitRequest struct {
	Unit string `json:"unit"`
}

// StopUnitResponse confirms the stopped unit.
type StopUnitResponse struct {
	Unit string `json:"unit"`
}

// RestartUnitRequest restarts one unit from its current on-disk definition.
type RestartUnitRequest struct {
	Unit string `json:"unit"`
}

// RestartUnitResponse confirms the restarted unit.
type RestartUnitResponse struct {
	Unit string `json:"unit"`
}

// ReloadUnitsRequest re-reads the units directory.
type ReloadUnitsRequest struct{}

// HistoryRequest fetches recent instance records, newest first. An empty
// Unit selects every unit.
type HistoryRequest struct {
	Unit  string `json:"unit"`
	Limit int    `json:"limit"`
}

// HistoryRecord is the wire form of one instance history row.
type HistoryRecord struct {
	InstanceID      string     `json:"instance_id"`
	Unit            string     `json:"unit"`
	Attempt         int        `json:"attempt"`
	PID             int        `json:"pid,omitempty"`
	State           string     `json:"state"`
	Outcome         string     `json:"outcome,omitempty"`
	ExitDescription string     `json:"exit_description,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	ReadyAt         *time.Time `json:"ready_at,omitempty"`
	ExitedAt        *time.Time `json:"exited_at,omitempty"`
}

// HistoryResponse contains instance records.
type HistoryResponse struct {
	Records []HistoryRecord `json:"records"`
}

// HistoryStatsRequest fetches per-unit history aggregates.
type HistoryStatsRequest struct{}

// UnitHistoryStats aggregates one unit's history on the wire.
type UnitHistoryStats struct {
	Unit        string `json:"unit"`
	Attempts    int    `json:"attempts"`
	Failures    int    `json:"failures"`
	LastOutcome string `json:"last_outcome,omitempty"`
}

// HistoryStatsResponse contains per-unit history aggregates.
type HistoryStatsResponse struct {
	Stats []UnitHistoryStats `json:"stats"`
}

// LogTailRequest fetches log lines based on offset and follow semantics. An
// empty Unit selects the daemon log.
type LogTailRequest struct {
	Unit       string `json:"unit"`
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}
