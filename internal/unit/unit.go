package unit

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RestartPolicy controls whether a unit is started again after its process
// exits. Only failures ever trigger a restart decision; an explicit stop
// request never does, regardless of policy.
type RestartPolicy string

const (
	// RestartOnFailure restarts after a non-zero or signaled exit. Default.
	RestartOnFailure RestartPolicy = "on-failure"
	// RestartAlways restarts after any exit that was not an explicit stop.
	RestartAlways RestartPolicy = "always"
	// RestartNever leaves the unit down after any exit.
	RestartNever RestartPolicy = "never"
)

var restartPolicies = map[RestartPolicy]struct{}{
	RestartOnFailure: {},
	RestartAlways:    {},
	RestartNever:     {},
}

// Valid reports whether the policy is a known value.
func (p RestartPolicy) Valid() bool {
	_, ok := restartPolicies[p]
	return ok
}

// StartType controls how the supervisor decides a started instance is ready.
type StartType string

const (
	// TypeNotify waits for a READY=1 datagram on the advertised socket.
	// Default: the looper controller signals readiness only after it has
	// acquired its MIDI ports.
	TypeNotify StartType = "notify"
	// TypeSimple treats the instance as ready as soon as it has been started.
	TypeSimple StartType = "simple"
)

var startTypes = map[StartType]struct{}{
	TypeNotify: {},
	TypeSimple: {},
}

// Valid reports whether the start type is a known value.
func (t StartType) Valid() bool {
	_, ok := startTypes[t]
	return ok
}

// Unit is one declarative service definition. Immutable once installed: the
// store writes it at install time and every start attempt re-reads it.
type Unit struct {
	// Name is derived from the unit file name and never serialized.
	Name string `toml:"-"`

	Description      string            `toml:"description"`
	ExecStart        []string          `toml:"exec_start"`
	WorkingDirectory string            `toml:"working_directory,omitempty"`
	Environment      map[string]string `toml:"environment,omitempty"`
	EnvironmentFile  string            `toml:"environment_file,omitempty"`
	Restart          RestartPolicy     `toml:"restart"`
	Type             StartType         `toml:"type"`
	User             string            `toml:"user,omitempty"`
	Group            string            `toml:"group,omitempty"`
	Device           string            `toml:"device,omitempty"`
	WantedBy         string            `toml:"wanted_by"`

	// Zero means inherit the daemon-wide value.
	StartTimeoutSeconds int `toml:"start_timeout_seconds,omitempty"`
	StopTimeoutSeconds  int `toml:"stop_timeout_seconds,omitempty"`
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateName reports whether name is acceptable as a unit name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("unit name must not be empty")
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("unit name %q must start with a lowercase letter or digit and contain only [a-z0-9._-]", name)
	}
	return nil
}

// Normalize fills defaults and trims free-text fields in place.
func (u *Unit) Normalize() {
	u.Description = strings.TrimSpace(u.Description)
	u.WorkingDirectory = strings.TrimSpace(u.WorkingDirectory)
	u.EnvironmentFile = strings.TrimSpace(u.EnvironmentFile)
	u.User = strings.TrimSpace(u.User)
	u.Group = strings.TrimSpace(u.Group)
	u.Device = strings.TrimSpace(u.Device)
	if u.Restart == "" {
		u.Restart = RestartOnFailure
	}
	if u.Type == "" {
		u.Type = TypeNotify
	}
	if strings.TrimSpace(u.WantedBy) == "" {
		u.WantedBy = "multi-user.target"
	}
}

// Validate ensures the unit can be supervised.
func (u *Unit) Validate() error {
	if err := ValidateName(u.Name); err != nil {
		return err
	}
	if len(u.ExecStart) == 0 {
		return fmt.Errorf("unit %s: exec_start must name an executable", u.Name)
	}
	if !filepath.IsAbs(u.ExecStart[0]) {
		return fmt.Errorf("unit %s: exec_start %q must be an absolute path", u.Name, u.ExecStart[0])
	}
	if u.WorkingDirectory != "" && !filepath.IsAbs(u.WorkingDirectory) {
		return fmt.Errorf("unit %s: working_directory %q must be an absolute path", u.Name, u.WorkingDirectory)
	}
	if u.EnvironmentFile != "" && !filepath.IsAbs(u.EnvironmentFile) {
		return fmt.Errorf("unit %s: environment_file %q must be an absolute path", u.Name, u.EnvironmentFile)
	}
	if u.Device != "" && !strings.HasPrefix(u.Device, "/dev/") {
		return fmt.Errorf("unit %s: device %q must be a /dev node", u.Name, u.Device)
	}
	if !u.Restart.Valid() {
		return fmt.Errorf("unit %s: restart must be on-failure, always, or never, got %q", u.Name, u.Restart)
	}
	if !u.Type.Valid() {
		return fmt.Errorf("unit %s: type must be notify or simple, got %q", u.Name, u.Type)
	}
	for key := range u.Environment {
		if !envKeyRe.MatchString(key) {
			return fmt.Errorf("unit %s: environment key %q is not a valid variable name", u.Name, key)
		}
	}
	if u.StartTimeoutSeconds < 0 {
		return fmt.Errorf("unit %s: start_timeout_seconds must not be negative", u.Name)
	}
	if u.StopTimeoutSeconds < 0 {
		return fmt.Errorf("unit %s: stop_timeout_seconds must not be negative", u.Name)
	}
	if u.Group != "" && u.User == "" {
		return fmt.Errorf("unit %s: group requires user to be set", u.Name)
	}
	return nil
}

var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StartTimeout returns the unit's start timeout, falling back to def when the
// unit does not override it.
func (u *Unit) StartTimeout(def time.Duration) time.Duration {
	if u.StartTimeoutSeconds > 0 {
		return time.Duration(u.StartTimeoutSeconds) * time.Second
	}
	return def
}

// StopTimeout returns the unit's stop grace period, falling back to def.
func (u *Unit) StopTimeout(def time.Duration) time.Duration {
	if u.StopTimeoutSeconds > 0 {
		return time.Duration(u.StopTimeoutSeconds) * time.Second
	}
	return def
}

// ResolvedEnvironment merges the optional environment file with the inline
// environment table. Inline values win so an installed unit can pin a variable
// regardless of what the file says.
func (u *Unit) ResolvedEnvironment() (map[string]string, error) {
	merged := map[string]string{}
	if u.EnvironmentFile != "" {
		fromFile, err := godotenv.Read(u.EnvironmentFile)
		if err != nil {
			return nil, fmt.Errorf("unit %s: read environment_file: %w", u.Name, err)
		}
		for key, value := range fromFile {
			merged[key] = value
		}
	}
	for key, value := range u.Environment {
		merged[key] = value
	}
	return merged, nil
}

// SortedEnvironment renders the resolved environment as deterministic KEY=VALUE
// pairs for exec and for unit exports.
func SortedEnvironment(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+env[key])
	}
	return pairs
}

// CommandLine renders ExecStart for display, quoting arguments that need it.
func (u *Unit) CommandLine() string {
	return renderArgv(u.ExecStart)
}

func renderArgv(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, arg := range argv {
		if strings.ContainsAny(arg, " \t\n\"'\\$") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
