package main

import (
	"path/filepath"
	"testing"
)

func TestNotifyTestUnconfigured(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"notify-test"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("notify-test: %v", err)
	}
	requireContains(t, stdout, "ntfy topic not configured")
}

func TestNotifyTestDaemonDown(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	socket := filepath.Join(t.TempDir(), "missing.sock")

	_, _, err := runCLI(t, []string{"notify-test"}, socket, "")
	if err == nil {
		t.Fatal("expected dial error when the daemon is down")
	}
	requireContains(t, err.Error(), "roadie daemon start")
}
