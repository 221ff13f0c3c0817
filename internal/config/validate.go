package config

import (
	"errors"
	"fmt"
)

// Unix socket paths are limited by sun_path; leave headroom for the socket
// file names created under the runtime directory.
const maxRuntimeDirLen = 80

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePaths() error {
	if c.Paths.UnitsDir == "" {
		return errors.New("paths.units_dir must be set")
	}
	if c.Paths.RuntimeDir == "" {
		return errors.New("paths.runtime_dir must be set")
	}
	if len(c.Paths.RuntimeDir) > maxRuntimeDirLen {
		return fmt.Errorf("paths.runtime_dir %q exceeds %d characters; unix socket paths under it would be too long", c.Paths.RuntimeDir, maxRuntimeDirLen)
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	positive := map[string]int{
		"supervisor.start_timeout_seconds": c.Supervisor.StartTimeout,
		"supervisor.stop_timeout_seconds":  c.Supervisor.StopTimeout,
		"supervisor.device_poll_seconds":   c.Supervisor.DevicePoll,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}
	if c.Supervisor.RestartDelay < 0 {
		return fmt.Errorf("supervisor.restart_delay_seconds must not be negative, got %d", c.Supervisor.RestartDelay)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return fmt.Errorf("notifications.request_timeout must be positive, got %d", c.Notifications.RequestTimeout)
	}
	return nil
}
