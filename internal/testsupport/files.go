package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"roadie/internal/config"
	"roadie/internal/unit"
)

// WriteExecutable writes a shell script to path and marks it executable.
func WriteExecutable(t testing.TB, path, script string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ScriptUnit builds a simple-type unit whose exec_start runs the provided
// shell script body. The unit does not restart unless the caller overrides
// the policy before installing it.
func ScriptUnit(t testing.TB, cfg *config.Config, name, script string) *unit.Unit {
	t.Helper()

	path := filepath.Join(BaseDir(cfg), "bin", name+".sh")
	WriteExecutable(t, path, script)

	u := &unit.Unit{
		Name:      name,
		ExecStart: []string{path},
		Type:      unit.TypeSimple,
		Restart:   unit.RestartNever,
	}
	u.Normalize()
	if err := u.Validate(); err != nil {
		t.Fatalf("script unit %s invalid: %v", name, err)
	}
	return u
}

// InstallUnit writes the unit definition into the config's units directory.
func InstallUnit(t testing.TB, cfg *config.Config, u *unit.Unit) {
	t.Helper()

	store := unit.NewStore(cfg.Paths.UnitsDir)
	if err := store.Install(u); err != nil {
		t.Fatalf("install unit %s: %v", u.Name, err)
	}
}
