package testsupport

import (
	"path/filepath"
	"testing"

	"roadie/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.UnitsDir = filepath.Join(base, "units")
	cfgVal.Paths.RuntimeDir = filepath.Join(base, "run")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Supervisor.StartTimeout = 5
	cfgVal.Supervisor.StopTimeout = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithNtfyTopic sets the push notification topic on the test config.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithStartTimeout overrides the daemon-wide readiness timeout in seconds.
func WithStartTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Supervisor.StartTimeout = seconds
	}
}

// WithStopTimeout overrides the daemon-wide stop grace period in seconds.
func WithStopTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Supervisor.StopTimeout = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.UnitsDir)
}
