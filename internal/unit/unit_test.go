package unit_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"roadie/internal/unit"
)

func validUnit() *unit.Unit {
	return &unit.Unit{
		Name:        "looper-midi",
		Description: "MIDI controller for the looper pedal",
		ExecStart:   []string{"/usr/bin/python3", "/usr/local/lib/looper/midi_controller.py"},
		Environment: map[string]string{"PYTHONUNBUFFERED": "1"},
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	u := validUnit()
	u.Normalize()

	if u.Restart != unit.RestartOnFailure {
		t.Fatalf("expected on-failure default, got %q", u.Restart)
	}
	if u.Type != unit.TypeNotify {
		t.Fatalf("expected notify default, got %q", u.Type)
	}
	if u.WantedBy != "multi-user.target" {
		t.Fatalf("expected multi-user.target default, got %q", u.WantedBy)
	}
}

func TestValidateRejectsBadUnits(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*unit.Unit)
		want   string
	}{
		{"empty exec", func(u *unit.Unit) { u.ExecStart = nil }, "exec_start"},
		{"relative exec", func(u *unit.Unit) { u.ExecStart = []string{"python3"} }, "absolute"},
		{"bad name", func(u *unit.Unit) { u.Name = "Looper Midi" }, "unit name"},
		{"bad policy", func(u *unit.Unit) { u.Restart = "sometimes" }, "restart"},
		{"bad type", func(u *unit.Unit) { u.Type = "forking" }, "type"},
		{"bad env key", func(u *unit.Unit) { u.Environment = map[string]string{"1BAD": "x"} }, "environment key"},
		{"device outside dev", func(u *unit.Unit) { u.Device = "/tmp/midi" }, "device"},
		{"group without user", func(u *unit.Unit) { u.Group = "audio" }, "group requires user"},
		{"negative start timeout", func(u *unit.Unit) { u.StartTimeoutSeconds = -1 }, "start_timeout_seconds"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := validUnit()
			u.Normalize()
			tc.mutate(u)
			err := u.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestTimeoutFallbacks(t *testing.T) {
	u := validUnit()
	u.Normalize()

	if got := u.StartTimeout(90 * time.Second); got != 90*time.Second {
		t.Fatalf("expected inherited start timeout, got %v", got)
	}
	u.StartTimeoutSeconds = 5
	if got := u.StartTimeout(90 * time.Second); got != 5*time.Second {
		t.Fatalf("expected per-unit start timeout, got %v", got)
	}
	if got := u.StopTimeout(10 * time.Second); got != 10*time.Second {
		t.Fatalf("expected inherited stop timeout, got %v", got)
	}
}

func TestResolvedEnvironmentMergesFileAndInline(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "looper.env")
	content := "MIDI_PORT=MidiLink Mini\nPYTHONUNBUFFERED=0\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	u := validUnit()
	u.EnvironmentFile = envFile
	u.Normalize()

	env, err := u.ResolvedEnvironment()
	if err != nil {
		t.Fatalf("ResolvedEnvironment returned error: %v", err)
	}
	if env["MIDI_PORT"] != "MidiLink Mini" {
		t.Fatalf("expected env file value, got %q", env["MIDI_PORT"])
	}
	// Inline pins win over the file.
	if env["PYTHONUNBUFFERED"] != "1" {
		t.Fatalf("expected inline value to win, got %q", env["PYTHONUNBUFFERED"])
	}

	pairs := unit.SortedEnvironment(env)
	if len(pairs) != 2 || pairs[0] != "MIDI_PORT=MidiLink Mini" {
		t.Fatalf("unexpected sorted environment: %v", pairs)
	}
}

func TestResolvedEnvironmentMissingFile(t *testing.T) {
	u := validUnit()
	u.EnvironmentFile = filepath.Join(t.TempDir(), "absent.env")
	u.Normalize()

	if _, err := u.ResolvedEnvironment(); err == nil {
		t.Fatal("expected error for missing environment file")
	}
}

func TestCommandLineQuotesArguments(t *testing.T) {
	u := validUnit()
	u.ExecStart = []string{"/usr/bin/python3", "/opt/looper controller.py", "--port", "MidiLink Mini"}

	got := u.CommandLine()
	want := `/usr/bin/python3 "/opt/looper controller.py" --port "MidiLink Mini"`
	if got != want {
		t.Fatalf("CommandLine = %q, want %q", got, want)
	}
}
