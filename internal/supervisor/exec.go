package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"roadie/internal/notify"
	"roadie/internal/unit"
)

// maxOutputLine bounds a single captured stdout/stderr line.
const maxOutputLine = 256 * 1024

// LaunchSpec carries everything needed to exec one instance of a unit.
type LaunchSpec struct {
	Unit *unit.Unit

	// NotifySocket is advertised to the child as NOTIFY_SOCKET. Empty for
	// units that do not signal readiness.
	NotifySocket string

	// OnLine receives each captured output line with its stream name.
	OnLine func(stream, line string)
}

// Process is a live handle on a launched instance.
type Process interface {
	PID() int
	// Wait blocks until the process and its output streams are finished.
	Wait() ExitStatus
	// Signal delivers sig to the whole process group.
	Signal(sig os.Signal) error
}

// Launcher starts unit processes. Tests substitute fakes; everything else
// uses the exec-based implementation.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// NewExecLauncher returns the Launcher used outside tests.
func NewExecLauncher() Launcher { return execLauncher{} }

type execLauncher struct{}

func (execLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	u := spec.Unit
	if u == nil || len(u.ExecStart) == 0 {
		return nil, errors.New("unit has no exec_start")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unitEnv, err := u.ResolvedEnvironment()
	if err != nil {
		return nil, fmt.Errorf("resolve environment: %w", err)
	}

	cmd := exec.Command(u.ExecStart[0], u.ExecStart[1:]...)
	cmd.Dir = u.WorkingDirectory
	cmd.Env = mergedEnviron(os.Environ(), unitEnv, spec.NotifySocket)
	// A dedicated process group lets stop signals reach the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if u.User != "" {
		cred, err := lookupCredential(u.User, u.Group)
		if err != nil {
			return nil, err
		}
		cmd.SysProcAttr.Credential = cred
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", u.CommandLine(), err)
	}

	p := &execProcess{cmd: cmd}
	p.scanners.Add(2)
	go p.scan(stdout, "stdout", spec.OnLine)
	go p.scan(stderr, "stderr", spec.OnLine)
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	scanners sync.WaitGroup
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) scan(r io.Reader, stream string, forward func(string, string)) {
	defer p.scanners.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	for scanner.Scan() {
		if forward != nil {
			forward(stream, scanner.Text())
		}
	}
}

// Wait drains the output pipes, then reaps the process.
func (p *execProcess) Wait() ExitStatus {
	p.scanners.Wait()
	return exitStatusFromError(p.cmd.Wait())
}

func (p *execProcess) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	return unix.Kill(-p.cmd.Process.Pid, s)
}

// mergedEnviron overlays the unit environment onto the daemon's, reserving
// NOTIFY_SOCKET for the manager. The result is sorted so launches are
// reproducible.
func mergedEnviron(base []string, unitEnv map[string]string, notifySocket string) []string {
	merged := make(map[string]string, len(base)+len(unitEnv)+1)
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for key, value := range unitEnv {
		merged[key] = value
	}
	if notifySocket != "" {
		merged[notify.EnvSocket] = notifySocket
	} else {
		// Never leak the daemon's own notify socket to children.
		delete(merged, notify.EnvSocket)
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	environ := make([]string, 0, len(keys))
	for _, key := range keys {
		environ = append(environ, key+"="+merged[key])
	}
	return environ
}

func lookupCredential(userName, groupName string) (*syscall.Credential, error) {
	if os.Geteuid() != 0 {
		return nil, fmt.Errorf("unit user %q requires the daemon to run as root", userName)
	}
	usr, err := user.Lookup(userName)
	if err != nil {
		return nil, fmt.Errorf("lookup user %q: %w", userName, err)
	}
	uid, err := strconv.ParseUint(usr.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse uid for user %q: %w", userName, err)
	}
	gid, err := strconv.ParseUint(usr.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse gid for user %q: %w", userName, err)
	}
	if groupName != "" {
		grp, err := user.LookupGroup(groupName)
		if err != nil {
			return nil, fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gid, err = strconv.ParseUint(grp.Gid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse gid for group %q: %w", groupName, err)
		}
	}
	groupIDs, err := usr.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("supplementary groups for user %q: %w", userName, err)
	}
	groups := make([]uint32, 0, len(groupIDs))
	for _, id := range groupIDs {
		parsed, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			continue
		}
		groups = append(groups, uint32(parsed))
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid), Groups: groups}, nil
}
