package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLogsDaemonLogEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"logs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, stdout, "No log entries available")
}

func TestLogsDaemonLog(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := env.cfg.DaemonLogPath()
	for _, line := range []string{"daemon booted", "watching units", "supervisor ready"} {
		if err := appendLine(logPath, line); err != nil {
			t.Fatalf("append log line: %v", err)
		}
	}

	stdout, _, err := runCLI(t, []string{"logs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, stdout, "daemon booted")
	requireContains(t, stdout, "supervisor ready")

	stdout, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	requireContains(t, stdout, "supervisor ready")
	if strings.Contains(stdout, "daemon booted") {
		t.Fatalf("expected only the last line, got %q", stdout)
	}
}

func TestLogsRejectsInvalidUnitName(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"logs", "../escape"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected invalid unit name error")
	}
}

func TestLogsFollow(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := env.cfg.DaemonLogPath()
	if err := appendLine(logPath, "first entry"); err != nil {
		t.Fatalf("append log line: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCommand()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--socket", env.socketPath, "--config", env.configPath, "logs", "--follow"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "first entry")
	})
	if err := appendLine(logPath, "second entry"); err != nil {
		t.Fatalf("append log line: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "second entry")
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("follow did not stop after cancel")
	}
}
