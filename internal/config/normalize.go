package config

import "strings"

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSupervisor()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	defaults := Default().Paths
	fields := []struct {
		value    *string
		fallback string
	}{
		{&c.Paths.UnitsDir, defaults.UnitsDir},
		{&c.Paths.RuntimeDir, defaults.RuntimeDir},
		{&c.Paths.LogDir, defaults.LogDir},
		{&c.Paths.DataDir, defaults.DataDir},
	}
	for _, field := range fields {
		raw := strings.TrimSpace(*field.value)
		if raw == "" {
			raw = field.fallback
		}
		expanded, err := expandPath(raw)
		if err != nil {
			return err
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeSupervisor() {
	defaults := Default().Supervisor
	if c.Supervisor.StartTimeout == 0 {
		c.Supervisor.StartTimeout = defaults.StartTimeout
	}
	if c.Supervisor.StopTimeout == 0 {
		c.Supervisor.StopTimeout = defaults.StopTimeout
	}
	if c.Supervisor.DevicePoll == 0 {
		c.Supervisor.DevicePoll = defaults.DevicePoll
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}
