package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultUnitsDir     = "~/.config/roadie/units"
	defaultLogDir       = "~/.local/share/roadie/logs"
	defaultDataDir      = "~/.local/share/roadie"
	defaultLogFormat    = "console"
	defaultLogLevel     = "info"
	defaultLogRetention = 60
	defaultStartTimeout = 90
	defaultStopTimeout  = 10
	defaultRestartDelay = 0
	defaultDevicePoll   = 3
	defaultNtfyTimeout  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UnitsDir:   defaultUnitsDir,
			RuntimeDir: defaultRuntimeDir(),
			LogDir:     defaultLogDir,
			DataDir:    defaultDataDir,
		},
		Supervisor: Supervisor{
			StartTimeout: defaultStartTimeout,
			StopTimeout:  defaultStopTimeout,
			RestartDelay: defaultRestartDelay,
			DevicePoll:   defaultDevicePoll,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetention,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			UnitEvents:     true,
			DaemonEvents:   true,
		},
	}
}

func defaultRuntimeDir() string {
	if base, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "roadie")
	}
	return "~/.local/share/roadie/run"
}
