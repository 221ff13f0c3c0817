package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const captureTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Capture appends supervised process output to a per-unit log file. Lines
// arrive pre-split from the supervisor's output sink; each is timestamped
// and written immediately so follow-mode tails see output promptly.
type Capture struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// UnitLogPath returns the capture file for a unit under dir.
func UnitLogPath(dir, unitName string) string {
	return filepath.Join(dir, unitName+".log")
}

// NewCapture opens the capture file for unitName, creating it if needed.
func NewCapture(dir, unitName string) (*Capture, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create unit log directory: %w", err)
	}
	path := UnitLogPath(dir, unitName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open unit log %s: %w", path, err)
	}
	return &Capture{path: path, file: file}, nil
}

// Path returns the capture file location.
func (c *Capture) Path() string {
	return c.path
}

// Write appends one output line tagged with its stream of origin.
func (c *Capture) Write(stream, line string) error {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "stdout"
	}
	return c.append(stream, line)
}

// Note appends a supervision marker, keeping restart boundaries and exit
// reports visible between the process's own lines.
func (c *Capture) Note(format string, args ...any) error {
	return c.append("roadie", fmt.Sprintf(format, args...))
}

func (c *Capture) append(tag, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return fmt.Errorf("unit log %s is closed", c.path)
	}
	_, err := fmt.Fprintf(c.file, "%s [%s] %s\n", time.Now().UTC().Format(captureTimeFormat), tag, line)
	return err
}

// Close closes the capture file. Close is idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
