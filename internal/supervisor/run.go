package supervisor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"roadie/internal/logging"
	"roadie/internal/notify"
	"roadie/internal/unit"
)

func (s *Supervisor) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		s.wg.Done()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if s.gate != nil {
			if err := s.gate.Wait(ctx); err != nil {
				if ctx.Err() == nil {
					s.logger.Error("launch gate failed", logging.Error(err))
				}
				return
			}
		}

		outcome := s.runOnce(ctx)
		decision := Decide(s.unit.Restart, outcome)

		s.mu.Lock()
		o := outcome
		s.lastOutcome = &o
		s.mu.Unlock()

		s.publish(EventExited, &outcome, decision)
		s.logger.Info("instance exited",
			logging.String(logging.FieldOutcome, string(outcome.Reason)),
			logging.String("exit", outcome.Describe()),
			logging.String("decision", string(decision)),
		)

		if decision != DecisionRestart {
			return
		}
		if s.cfg.RestartDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RestartDelay):
			}
		}
	}
}

// runOnce executes a single instance from launch to exit and returns its
// outcome.
func (s *Supervisor) runOnce(ctx context.Context) Outcome {
	inst := s.beginInstance()

	var listener *notify.Listener
	notifySocket := ""
	if s.unit.Type == unit.TypeNotify {
		l, err := notify.NewListener(s.cfg.NotifyDir, inst.ID, s.logger)
		if err != nil {
			return s.abortLaunch(inst, fmt.Errorf("readiness listener: %w", err))
		}
		listener = l
		notifySocket = l.SocketPath()
	}

	proc, err := s.launcher.Launch(ctx, LaunchSpec{
		Unit:         s.unit,
		NotifySocket: notifySocket,
		OnLine:       s.forwardLine,
	})
	if err != nil {
		if listener != nil {
			listener.Close()
		}
		if ctx.Err() != nil {
			return s.endInstance(inst, nil, Outcome{
				Reason:  ReasonGracefulShutdown,
				Exit:    ExitStatus{Code: -1},
				Stopped: true,
			})
		}
		return s.abortLaunch(inst, err)
	}

	pid := proc.PID()
	if listener != nil {
		listener.ExpectPID(pid)
	}
	s.attachProcess(inst, proc, listener, pid)
	s.publish(EventStarting, nil, "")
	s.logger.Info("instance started",
		logging.String(logging.FieldInstance, inst.ID),
		logging.Int(logging.FieldPID, pid),
		logging.Int(logging.FieldAttempt, inst.Attempt),
	)

	waitCh := make(chan ExitStatus, 1)
	go func() { waitCh <- proc.Wait() }()

	if s.unit.Type == unit.TypeNotify {
		timer := time.NewTimer(s.cfg.StartTimeout)
		defer timer.Stop()
		select {
		case <-listener.Ready():
			s.markReady(inst)
		case exit := <-waitCh:
			stopped := ctx.Err() != nil || s.stopRequested()
			return s.endInstance(inst, listener, newOutcome(exit, false, stopped, false))
		case <-timer.C:
			s.logger.Warn("no readiness signal before start timeout",
				logging.Duration("start_timeout", s.cfg.StartTimeout),
				logging.Int(logging.FieldPID, pid),
			)
			exit := s.terminate(proc, waitCh)
			stopped := ctx.Err() != nil || s.stopRequested()
			return s.endInstance(inst, listener, newOutcome(exit, false, stopped, true))
		case <-ctx.Done():
			exit := s.terminate(proc, waitCh)
			return s.endInstance(inst, listener, newOutcome(exit, false, true, false))
		}
	} else {
		// Units without a readiness protocol count as ready once running.
		s.markReady(inst)
	}

	select {
	case exit := <-waitCh:
		stopped := ctx.Err() != nil || s.stopRequested()
		return s.endInstance(inst, listener, newOutcome(exit, true, stopped, false))
	case <-ctx.Done():
		exit := s.terminate(proc, waitCh)
		return s.endInstance(inst, listener, newOutcome(exit, true, true, false))
	}
}

// terminate runs the stop sequence: SIGTERM to the process group, a
// bounded wait, then SIGKILL.
func (s *Supervisor) terminate(proc Process, waitCh <-chan ExitStatus) ExitStatus {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("terminate signal failed", logging.Error(err))
	}
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case exit := <-waitCh:
		return exit
	case <-timer.C:
	}
	s.logger.Warn("stop timeout exceeded, killing process group",
		logging.Duration("stop_timeout", s.cfg.StopTimeout),
	)
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		s.logger.Warn("kill signal failed", logging.Error(err))
	}
	return <-waitCh
}

func (s *Supervisor) beginInstance() *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	inst := newInstance(s.unit.Name, s.attempts)
	s.current = inst
	return inst
}

func (s *Supervisor) attachProcess(inst *Instance, proc Process, listener *notify.Listener, pid int) {
	s.mu.Lock()
	inst.PID = pid
	s.proc = proc
	s.listener = listener
	s.mu.Unlock()
}

// markReady transitions starting→ready exactly once, then marks the
// service active. Late or repeated signals are no-ops.
func (s *Supervisor) markReady(inst *Instance) {
	s.mu.Lock()
	if inst.State != StateStarting {
		s.mu.Unlock()
		return
	}
	inst.State = StateReady
	inst.ReadyAt = time.Now().UTC()
	latency := inst.ReadyLatency()
	s.mu.Unlock()

	s.logger.Info("unit ready",
		logging.String(logging.FieldInstance, inst.ID),
		logging.Int(logging.FieldPID, inst.PID),
		logging.Duration("ready_latency", latency),
	)
	s.publish(EventReady, nil, "")

	s.mu.Lock()
	inst.State = StateRunning
	s.mu.Unlock()
}

func (s *Supervisor) endInstance(inst *Instance, listener *notify.Listener, outcome Outcome) Outcome {
	if listener != nil {
		listener.Close()
	}
	s.mu.Lock()
	inst.State = StateExited
	inst.ExitedAt = time.Now().UTC()
	exit := outcome.Exit
	inst.Exit = &exit
	s.proc = nil
	s.listener = nil
	s.mu.Unlock()
	return outcome
}

func (s *Supervisor) abortLaunch(inst *Instance, err error) Outcome {
	s.logger.Error("launch failed", logging.Error(err))
	return s.endInstance(inst, nil, launchFailure(err))
}

func (s *Supervisor) publish(kind EventKind, outcome *Outcome, decision Decision) {
	s.mu.Lock()
	var inst Instance
	if s.current != nil {
		inst = *s.current
	}
	sink := s.events
	s.mu.Unlock()
	if sink == nil {
		return
	}
	ev := Event{Kind: kind, Unit: s.unit.Name, Instance: inst, Decision: decision}
	if outcome != nil {
		o := *outcome
		ev.Outcome = &o
	}
	sink(ev)
}

func (s *Supervisor) forwardLine(stream, line string) {
	if s.output != nil {
		s.output(stream, line)
		return
	}
	s.logger.Debug("unit output",
		logging.String(logging.FieldStream, stream),
		logging.String("line", line),
	)
}
