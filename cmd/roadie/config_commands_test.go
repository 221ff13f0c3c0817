package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInit(t *testing.T) {
	homeDir := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	socket := filepath.Join(t.TempDir(), "roadied.sock")

	stdout, _, err := runCLI(t, []string{"config", "init"}, socket, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, stdout, "Wrote sample configuration to")

	configPath := filepath.Join(homeDir, ".config", "roadie", "config.toml")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init"}, socket, ""); err == nil ||
		!strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--overwrite"}, socket, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigInitCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	socket := filepath.Join(t.TempDir(), "roadied.sock")
	target := filepath.Join(t.TempDir(), "nested", "roadie.toml")

	stdout, _, err := runCLI(t, []string{"config", "init", "--path", target}, socket, "")
	if err != nil {
		t.Fatalf("config init --path: %v", err)
	}
	requireContains(t, stdout, target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	_, configPath := setupOfflineEnv(t)
	socket := filepath.Join(t.TempDir(), "roadied.sock")

	stdout, stderr, err := runCLI(t, []string{"config", "path"}, socket, configPath)
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if got := strings.TrimSpace(stdout); got != configPath {
		t.Fatalf("expected path %q, got %q", configPath, got)
	}
	if stderr != "" {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestConfigPathMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	socket := filepath.Join(t.TempDir(), "roadied.sock")

	stdout, stderr, err := runCLI(t, []string{"config", "path"}, socket, "")
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(stdout) == "" {
		t.Fatal("expected a resolved path")
	}
	requireContains(t, stderr, "defaults are in effect")
}

func TestConfigShow(t *testing.T) {
	cfg, configPath := setupOfflineEnv(t)
	socket := filepath.Join(t.TempDir(), "roadied.sock")

	stdout, _, err := runCLI(t, []string{"config", "show"}, socket, configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, stdout, "# loaded from "+configPath)
	requireContains(t, stdout, "units_dir")
	requireContains(t, stdout, cfg.Paths.UnitsDir)
}

func TestConfigShowDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	socket := filepath.Join(t.TempDir(), "roadied.sock")

	stdout, _, err := runCLI(t, []string{"config", "show"}, socket, "")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, stdout, "# defaults;")
	requireContains(t, stdout, "units_dir")
}
