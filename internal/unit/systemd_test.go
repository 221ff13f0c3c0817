package unit_test

import (
	"strings"
	"testing"
	"time"

	"roadie/internal/unit"
)

func TestExportSystemd(t *testing.T) {
	u := validUnit()
	u.User = "looper"
	u.Group = "audio"
	u.Device = "/dev/snd/midiC1D0"
	u.Normalize()

	out, err := unit.ExportSystemd(u, 90*time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("ExportSystemd returned error: %v", err)
	}

	for _, want := range []string{
		"[Unit]",
		"Description=MIDI controller for the looper pedal",
		"After=dev-snd-midiC1D0.device",
		"BindsTo=dev-snd-midiC1D0.device",
		"[Service]",
		"Type=notify",
		"ExecStart=/usr/bin/python3 /usr/local/lib/looper/midi_controller.py",
		"User=looper",
		"Group=audio",
		`Environment="PYTHONUNBUFFERED=1"`,
		"Restart=on-failure",
		"TimeoutStartSec=90",
		"TimeoutStopSec=10",
		"[Install]",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestExportSystemdPolicyMapping(t *testing.T) {
	u := validUnit()
	u.Restart = unit.RestartNever
	u.Type = unit.TypeSimple
	u.Normalize()

	out, err := unit.ExportSystemd(u, time.Minute, 10*time.Second)
	if err != nil {
		t.Fatalf("ExportSystemd returned error: %v", err)
	}
	if !strings.Contains(out, "Restart=no") {
		t.Fatalf("expected Restart=no, got:\n%s", out)
	}
	if !strings.Contains(out, "Type=simple") {
		t.Fatalf("expected Type=simple, got:\n%s", out)
	}
	if strings.Contains(out, "BindsTo=") {
		t.Fatalf("expected no device binding without device, got:\n%s", out)
	}
}

func TestExportSystemdUsesUnitTimeoutOverrides(t *testing.T) {
	u := validUnit()
	u.StartTimeoutSeconds = 30
	u.Normalize()

	out, err := unit.ExportSystemd(u, 90*time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("ExportSystemd returned error: %v", err)
	}
	if !strings.Contains(out, "TimeoutStartSec=30") {
		t.Fatalf("expected per-unit start timeout, got:\n%s", out)
	}
}
