package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	UnitsDir   string `toml:"units_dir"`
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	DataDir    string `toml:"data_dir"`
}

// Supervisor contains supervision timing knobs. Values are whole seconds.
type Supervisor struct {
	StartTimeout int `toml:"start_timeout_seconds"`
	StopTimeout  int `toml:"stop_timeout_seconds"`
	RestartDelay int `toml:"restart_delay_seconds"`
	DevicePoll   int `toml:"device_poll_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	UnitEvents     bool   `toml:"unit_events"`
	DaemonEvents   bool   `toml:"daemon_events"`
}

// Config encapsulates all configuration values for roadie.
//
// Configuration sections by subsystem:
//   - Paths: unit definitions, runtime sockets, logs, and state database
//   - Supervisor: start/stop timeouts, restart delay, device poll cadence
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Supervisor    Supervisor    `toml:"supervisor"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/roadie/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("roadie.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.UnitsDir,
		c.Paths.RuntimeDir,
		c.NotifySocketDir(),
		c.Paths.LogDir,
		c.UnitLogDir(),
		c.Paths.DataDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the control socket the daemon listens on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "roadied.sock")
}

// PIDFilePath returns the location of the daemon pid file.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "roadied.pid")
}

// LockFilePath returns the daemon single-instance lock file.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "roadied.lock")
}

// NotifySocketDir returns the directory holding per-instance readiness sockets.
func (c *Config) NotifySocketDir() string {
	return filepath.Join(c.Paths.RuntimeDir, "notify")
}

// HistoryDBPath returns the sqlite database recording instance history.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.DataDir, "history.db")
}

// UnitLogDir returns the directory holding captured per-unit output logs.
func (c *Config) UnitLogDir() string {
	return filepath.Join(c.Paths.LogDir, "units")
}

// DaemonLogPath returns the daemon's own log file.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.Paths.LogDir, "roadied.log")
}

// StartTimeout returns how long a starting instance may take to signal ready.
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Supervisor.StartTimeout) * time.Second
}

// StopTimeout returns the grace period between SIGTERM and SIGKILL.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Supervisor.StopTimeout) * time.Second
}

// RestartDelay returns the pause before a restart attempt. Zero keeps the
// immediate restart-on-failure behavior.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Supervisor.RestartDelay) * time.Second
}

// DevicePollInterval returns the stat-poll cadence used when waiting for a
// device node without netlink events.
func (c *Config) DevicePollInterval() time.Duration {
	return time.Duration(c.Supervisor.DevicePoll) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
