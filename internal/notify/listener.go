package notify

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"roadie/internal/logging"
)

// EnvSocket is the environment variable naming the readiness socket.
const EnvSocket = "NOTIFY_SOCKET"

const (
	readyToken     = "READY=1"
	stoppingToken  = "STOPPING=1"
	statusPrefix   = "STATUS="
	datagramBuffer = 4096
)

// Listener receives readiness datagrams for a single instance. Ready resolves
// at most once; everything after the first READY=1 only refreshes status text.
type Listener struct {
	path   string
	conn   *net.UnixConn
	logger *slog.Logger

	expectedPID atomic.Int64

	ready     chan struct{}
	readyOnce sync.Once

	statusMu sync.Mutex
	status   string

	stopping atomic.Bool

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewListener binds a fresh datagram socket for one instance under dir. The
// socket is world-writable so units running under a dedicated identity can
// still reach it; credential checks keep strangers out.
func NewListener(dir, instanceID string, logger *slog.Logger) (*Listener, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notify directory: %w", err)
	}
	path := filepath.Join(dir, instanceID+".sock")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale notify socket: %w", err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("bind notify socket %s: %w", path, err)
	}
	if err := enableCredentials(conn); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, err
	}
	if err := os.Chmod(path, 0o666); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, fmt.Errorf("chmod notify socket: %w", err)
	}

	l := &Listener{
		path:   path,
		conn:   conn,
		logger: logging.NewComponentLogger(logger, "notify"),
		ready:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.receive()
	return l, nil
}

func enableCredentials(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("notify socket raw conn: %w", err)
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}); err != nil {
		return fmt.Errorf("notify socket control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("enable SO_PASSCRED: %w", sockErr)
	}
	return nil
}

// SocketPath returns the bound socket path for the child's NOTIFY_SOCKET.
func (l *Listener) SocketPath() string { return l.path }

// ExpectPID restricts readiness processing to datagrams whose sender
// credentials carry the given pid. Zero accepts any sender.
func (l *Listener) ExpectPID(pid int) { l.expectedPID.Store(int64(pid)) }

// Ready returns the one-shot readiness future. The channel closes when the
// first accepted READY=1 arrives and never reopens.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Status returns the most recent STATUS= text sent by the instance.
func (l *Listener) Status() string {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status
}

// Stopping reports whether the instance announced an intentional shutdown.
func (l *Listener) Stopping() bool { return l.stopping.Load() }

// Close shuts the socket down and removes it. Idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
		l.wg.Wait()
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

func (l *Listener) receive() {
	defer l.wg.Done()
	buf := make([]byte, datagramBuffer)
	oob := make([]byte, 256)
	for {
		n, oobn, _, _, err := l.conn.ReadMsgUnix(buf, oob)
		if err != nil {
			return
		}
		cred := parseCredentials(oob[:oobn])
		if !l.acceptSender(cred) {
			continue
		}
		l.handleMessage(string(buf[:n]), cred)
	}
}

func (l *Listener) acceptSender(cred *unix.Ucred) bool {
	expected := l.expectedPID.Load()
	if expected == 0 || cred == nil {
		return true
	}
	if int64(cred.Pid) == expected {
		return true
	}
	l.logger.Warn("dropping notify datagram from unexpected process",
		logging.Int("sender_pid", int(cred.Pid)),
		logging.Int("expected_pid", int(expected)))
	return false
}

func (l *Listener) handleMessage(message string, cred *unix.Ucred) {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == readyToken:
			l.readyOnce.Do(func() {
				if cred != nil {
					l.logger.Debug("readiness signal received", logging.Int("sender_pid", int(cred.Pid)))
				}
				close(l.ready)
			})
		case line == stoppingToken:
			l.stopping.Store(true)
		case strings.HasPrefix(line, statusPrefix):
			l.statusMu.Lock()
			l.status = strings.TrimPrefix(line, statusPrefix)
			l.statusMu.Unlock()
		default:
			// Unknown assignments (MAINPID, ERRNO, ...) are tolerated.
		}
	}
}

func parseCredentials(oob []byte) *unix.Ucred {
	if len(oob) == 0 {
		return nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	for _, msg := range msgs {
		cred, err := unix.ParseUnixCredentials(&msg)
		if err == nil {
			return cred
		}
	}
	return nil
}
