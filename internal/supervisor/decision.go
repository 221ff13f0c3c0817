package supervisor

import "roadie/internal/unit"

// Reason classifies why an instance stopped. Startup failures and runtime
// crashes are recovered through the restart policy; a graceful shutdown is
// not an error and never restarts.
type Reason string

const (
	ReasonStartupFailure   Reason = "startup-failure"
	ReasonRuntimeCrash     Reason = "runtime-crash"
	ReasonGracefulShutdown Reason = "graceful-shutdown"
)

// Decision is the result of applying a restart policy to an outcome.
type Decision string

const (
	DecisionRestart      Decision = "restart"
	DecisionDoNotRestart Decision = "do-not-restart"
)

// Outcome is the post-mortem for one exited instance.
type Outcome struct {
	Reason Reason
	Exit   ExitStatus

	// Err is set when the process could not be launched at all.
	Err error

	// TimedOut marks instances whose readiness signal never arrived
	// inside the start timeout.
	TimedOut bool

	// Stopped marks exits driven by an explicit stop or shutdown request.
	Stopped bool
}

// Describe renders the outcome for status lines and history rows.
func (o Outcome) Describe() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.TimedOut:
		return "readiness timeout, " + o.Exit.String()
	case o.Stopped:
		return "stopped, " + o.Exit.String()
	default:
		return o.Exit.String()
	}
}

// newOutcome classifies an observed exit. An explicit stop always reads as
// graceful; a readiness timeout always reads as a startup failure, even
// when the killed process manages a clean exit.
func newOutcome(exit ExitStatus, reachedReady, stopped, timedOut bool) Outcome {
	o := Outcome{Exit: exit, Stopped: stopped, TimedOut: timedOut}
	switch {
	case stopped:
		o.Reason = ReasonGracefulShutdown
	case timedOut:
		o.Reason = ReasonStartupFailure
	case exit.Success():
		o.Reason = ReasonGracefulShutdown
	case reachedReady:
		o.Reason = ReasonRuntimeCrash
	default:
		o.Reason = ReasonStartupFailure
	}
	return o
}

func launchFailure(err error) Outcome {
	return Outcome{Reason: ReasonStartupFailure, Exit: ExitStatus{Code: -1}, Err: err}
}

// Decide applies a restart policy to a finished instance. It is pure: the
// same policy and outcome always produce the same decision. An intentional
// stop never restarts, regardless of policy.
func Decide(policy unit.RestartPolicy, outcome Outcome) Decision {
	if outcome.Stopped {
		return DecisionDoNotRestart
	}
	switch policy {
	case unit.RestartAlways:
		return DecisionRestart
	case unit.RestartOnFailure:
		if outcome.Reason == ReasonGracefulShutdown {
			return DecisionDoNotRestart
		}
		return DecisionRestart
	case unit.RestartNever:
		return DecisionDoNotRestart
	default:
		return DecisionDoNotRestart
	}
}
