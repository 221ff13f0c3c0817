package history

import "time"

// Outcome labels stored in the outcome column. Rows for live instances carry
// an empty outcome until the instance exits.
const (
	OutcomeStartupFailure   = "startup-failure"
	OutcomeRuntimeCrash     = "runtime-crash"
	OutcomeGracefulShutdown = "graceful-shutdown"
)

// Record is one instance's row in the history store. The daemon upserts the
// full snapshot on every lifecycle event, so writes are idempotent.
type Record struct {
	InstanceID      string
	Unit            string
	Attempt         int
	PID             int
	State           string
	Outcome         string
	ExitDescription string
	StartedAt       time.Time
	ReadyAt         *time.Time
	ExitedAt        *time.Time
}

// UnitStats aggregates one unit's history.
type UnitStats struct {
	Unit        string
	Attempts    int
	Failures    int
	LastOutcome string
}
