package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"roadie/internal/config"
	"roadie/internal/history"
	"roadie/internal/ipc"
	"roadie/internal/logs"
	"roadie/internal/supervisor"
	"roadie/internal/unit"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls how the detached daemon process is spawned.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures how EnsureStarted satisfied the request.
type StartResult struct {
	State StartState
	PID   int
}

// Launch spawns a detached daemon process via the "daemon run" subcommand.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon", "run"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls the IPC socket until the daemon answers and returns a
// connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			if _, err = client.Ping(); err == nil {
				return client, nil
			}
			_ = client.Close()
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one is already serving the socket.
// Supervision begins as soon as the process boots, so a reachable daemon is a
// started daemon.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if !isDaemonUnavailable(err) {
			return StartResult{}, err
		}
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	result := StartResult{State: StartStateAlreadyRunning}
	if launched {
		result.State = StartStateStarted
	}
	if pong, pingErr := client.Ping(); pingErr == nil && pong != nil {
		result.PID = pong.PID
	} else if pingErr != nil {
		return StartResult{}, fmt.Errorf("daemon socket %s is unresponsive: %w", socketPath, pingErr)
	}
	return result, nil
}

// WaitForShutdown waits for the daemon's IPC socket to disappear.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			lastErr = err
			time.Sleep(pollInterval)
			continue
		}
		_ = client.Close()
		lastErr = fmt.Errorf("daemon still running")
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for shutdown")
	}
	return fmt.Errorf("daemon did not stop: %w", lastErr)
}

// ProcessInfo reports whether the daemon answers on the socket and its PID
// when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	pong, pingErr := client.Ping()
	if pingErr != nil {
		return true, 0, pingErr
	}
	return true, pong.PID, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans up its pid
// and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pidStr != "" {
			if parsed, parseErr := strconv.Atoi(pidStr); parseErr == nil && parsed > 0 {
				pid = parsed
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures how a daemon stop request was satisfied.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures the stop and start halves of a daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate asks the daemon to exit over IPC and sends SIGKILL if the
// process is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}

	var lockPath string
	pid := 0
	if statusResp, statusErr := client.Status(); statusErr == nil && statusResp != nil {
		lockPath = statusResp.LockFilePath
		pid = statusResp.PID
	}

	resp, err := client.Shutdown()
	_ = client.Close()
	result := StopResult{PID: pid}
	switch {
	case err == nil:
		if resp != nil {
			result.StopAcknowledged = resp.Stopping
		}
	case isConnectionDropped(err):
		// The daemon can exit between flushing the shutdown response and the
		// client reading it. A dropped connection counts as acknowledgement;
		// the wait below determines whether escalation is needed.
		result.StopAcknowledged = true
	default:
		return result, fmt.Errorf("request daemon shutdown: %w", err)
	}

	if waitErr := WaitForShutdown(socketPath, gracePeriod); waitErr == nil {
		return result, nil
	}
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil {
		alive = false
	}
	if !alive {
		return result, nil
	}

	currentPID := livePID
	if currentPID == 0 {
		currentPID = pid
	}
	killedPID, killErr := ForceKillProcess(pidFilePath(cfg, lockPath), lockFilePath(cfg, lockPath), currentPID)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures a fresh one is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// BuildStatusSnapshot collects daemon status over IPC and falls back to an
// offline snapshot built from the unit store and instance history when the
// daemon is down.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.Status, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			return resp, nil
		}
	}

	snapshot := &ipc.Status{
		UnitsDir:      cfg.Paths.UnitsDir,
		HistoryDBPath: cfg.HistoryDBPath(),
		LockFilePath:  cfg.LockFilePath(),
		SocketPath:    cfg.SocketPath(),
	}

	store := unit.NewStore(cfg.Paths.UnitsDir)
	units, _ := store.List()
	for _, u := range units {
		snapshot.Units = append(snapshot.Units, ipc.UnitStatus{
			Status: supervisor.Status{
				Unit:    u.Name,
				Restart: u.Restart,
			},
			Description: u.Description,
			Device:      u.Device,
			LogPath:     logs.UnitLogPath(cfg.UnitLogDir(), u.Name),
		})
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if hist, openErr := history.Open(cfg.HistoryDBPath()); openErr == nil {
		for i := range snapshot.Units {
			recs, recErr := hist.Recent(queryCtx, snapshot.Units[i].Unit, 1)
			if recErr != nil || len(recs) == 0 {
				continue
			}
			snapshot.Units[i].LastExit = recs[0].ExitDescription
		}
		_ = hist.Close()
	}

	return snapshot, nil
}

func pidFilePath(cfg *config.Config, lockPath string) string {
	if cfg != nil {
		return cfg.PIDFilePath()
	}
	if lockPath != "" {
		return filepath.Join(filepath.Dir(lockPath), "roadied.pid")
	}
	return ""
}

func lockFilePath(cfg *config.Config, lockPath string) string {
	if cfg != nil {
		return cfg.LockFilePath()
	}
	return lockPath
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func isConnectionDropped(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, rpc.ErrShutdown) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
