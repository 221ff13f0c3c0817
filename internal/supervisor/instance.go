package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// State identifies where an instance is in its lifecycle. Every instance
// moves through starting toward exited; ready and running are only reached
// when initialization completes.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// Instance records one execution attempt of a supervised unit. A fresh
// instance is created for every start, manual or policy-driven.
type Instance struct {
	ID        string
	Unit      string
	Attempt   int
	PID       int
	State     State
	StartedAt time.Time
	ReadyAt   time.Time
	ExitedAt  time.Time
	Exit      *ExitStatus
}

func newInstance(unitName string, attempt int) *Instance {
	return &Instance{
		ID:        uuid.NewString(),
		Unit:      unitName,
		Attempt:   attempt,
		State:     StateStarting,
		StartedAt: time.Now().UTC(),
	}
}

// Live reports whether the instance still occupies the unit's single live
// slot.
func (i *Instance) Live() bool {
	return i != nil && i.State != StateExited
}

// ReadyLatency is the time the instance took to signal readiness, zero if
// it never did.
func (i *Instance) ReadyLatency() time.Duration {
	if i == nil || i.ReadyAt.IsZero() {
		return 0
	}
	return i.ReadyAt.Sub(i.StartedAt)
}

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	Code   int
	Signal string
}

// Success reports a clean exit.
func (e ExitStatus) Success() bool {
	return e.Signal == "" && e.Code == 0
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "signal " + e.Signal
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func exitStatusFromError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := ExitStatus{Code: exitErr.ExitCode()}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = unix.SignalName(unix.Signal(ws.Signal()))
		}
		return status
	}
	return ExitStatus{Code: -1}
}
