package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roadie/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantUnits := filepath.Join(tempHome, ".config", "roadie", "units")
	if cfg.Paths.UnitsDir != wantUnits {
		t.Fatalf("unexpected units dir: got %q want %q", cfg.Paths.UnitsDir, wantUnits)
	}
	if !strings.HasPrefix(cfg.Paths.RuntimeDir, tempHome) {
		t.Fatalf("expected runtime dir under HOME, got %q", cfg.Paths.RuntimeDir)
	}
	if cfg.Supervisor.StartTimeout != 90 {
		t.Fatalf("unexpected start timeout: %d", cfg.Supervisor.StartTimeout)
	}
	if cfg.Supervisor.RestartDelay != 0 {
		t.Fatalf("expected immediate restart by default, got delay %d", cfg.Supervisor.RestartDelay)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if got := cfg.SocketPath(); filepath.Base(got) != "roadied.sock" {
		t.Fatalf("unexpected socket path: %q", got)
	}
	if got := cfg.NotifySocketDir(); !strings.HasPrefix(got, cfg.Paths.RuntimeDir) {
		t.Fatalf("notify dir %q not under runtime dir %q", got, cfg.Paths.RuntimeDir)
	}
}

func TestLoadReadsExplicitFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "roadie.toml")
	content := strings.Join([]string{
		"[paths]",
		`units_dir = "` + filepath.Join(tempHome, "units") + `"`,
		"[supervisor]",
		"start_timeout_seconds = 5",
		"restart_delay_seconds = 2",
		"[logging]",
		`format = "json"`,
		`level = "debug"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Supervisor.StartTimeout != 5 {
		t.Fatalf("unexpected start timeout: %d", cfg.Supervisor.StartTimeout)
	}
	if cfg.RestartDelay().Seconds() != 2 {
		t.Fatalf("unexpected restart delay: %v", cfg.RestartDelay())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected format: %q", cfg.Logging.Format)
	}
	// Unset sections keep their defaults.
	if cfg.Supervisor.StopTimeout != 10 {
		t.Fatalf("unexpected stop timeout: %d", cfg.Supervisor.StopTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad format",
			content: "[logging]\nformat = \"logfmt\"\n",
			wantErr: "logging.format",
		},
		{
			name:    "bad level",
			content: "[logging]\nlevel = \"verbose\"\n",
			wantErr: "logging.level",
		},
		{
			name:    "negative restart delay",
			content: "[supervisor]\nrestart_delay_seconds = -1\n",
			wantErr: "restart_delay_seconds",
		},
		{
			name:    "negative start timeout",
			content: "[supervisor]\nstart_timeout_seconds = -3\n",
			wantErr: "start_timeout_seconds",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "roadie.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.UnitsDir, cfg.NotifySocketDir(), cfg.UnitLogDir(), cfg.Paths.DataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected directory at %s", dir)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Supervisor.StartTimeout != 90 {
		t.Fatalf("sample should carry defaults, got start timeout %d", cfg.Supervisor.StartTimeout)
	}
}
