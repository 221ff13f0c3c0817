package notify

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrNoSocket is returned by Send when NOTIFY_SOCKET is not set: the process
// is not running under a notify-aware supervisor.
var ErrNoSocket = errors.New("NOTIFY_SOCKET not set")

// Send writes one state datagram to the socket advertised in NOTIFY_SOCKET.
// Socket paths starting with '@' address the abstract namespace, matching
// sd_notify behavior.
func Send(state string) error {
	state = strings.TrimSpace(state)
	if state == "" {
		return errors.New("empty notify state")
	}
	target := os.Getenv(EnvSocket)
	if target == "" {
		return ErrNoSocket
	}
	if strings.HasPrefix(target, "@") {
		target = "\x00" + target[1:]
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: target, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("dial notify socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("send notify state: %w", err)
	}
	return nil
}

// Ready reports the process has finished initialization and is able to serve.
func Ready() error { return Send(readyToken) }

// Stopping announces an intentional shutdown is beginning.
func Stopping() error { return Send(stoppingToken) }

// Statusf publishes a free-text status line for operators.
func Statusf(format string, args ...any) error {
	return Send(statusPrefix + fmt.Sprintf(format, args...))
}
