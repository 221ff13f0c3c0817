package unit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExportSystemd renders the unit as a systemd service file so the same
// definition can be activated at boot by the host init system. The mapping is
// deliberately narrow: only directives with a roadie equivalent are emitted.
func ExportSystemd(u *Unit, defaultStart, defaultStop time.Duration) (string, error) {
	if err := u.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("[Unit]\n")
	description := u.Description
	if description == "" {
		description = u.Name
	}
	fmt.Fprintf(&b, "Description=%s\n", description)
	if u.Device != "" {
		// systemd names device units after the escaped node path.
		device := deviceUnitName(u.Device)
		fmt.Fprintf(&b, "After=%s\n", device)
		fmt.Fprintf(&b, "BindsTo=%s\n", device)
	}
	b.WriteString("\n[Service]\n")
	fmt.Fprintf(&b, "Type=%s\n", exportType(u.Type))
	fmt.Fprintf(&b, "ExecStart=%s\n", renderArgv(u.ExecStart))
	if u.WorkingDirectory != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", u.WorkingDirectory)
	}
	if u.User != "" {
		fmt.Fprintf(&b, "User=%s\n", u.User)
	}
	if u.Group != "" {
		fmt.Fprintf(&b, "Group=%s\n", u.Group)
	}
	if u.EnvironmentFile != "" {
		fmt.Fprintf(&b, "EnvironmentFile=%s\n", u.EnvironmentFile)
	}
	for _, key := range sortedKeys(u.Environment) {
		value := strings.ReplaceAll(u.Environment[key], `"`, `\"`)
		fmt.Fprintf(&b, "Environment=\"%s=%s\"\n", key, value)
	}
	fmt.Fprintf(&b, "Restart=%s\n", exportRestart(u.Restart))
	fmt.Fprintf(&b, "TimeoutStartSec=%d\n", int(u.StartTimeout(defaultStart).Seconds()))
	fmt.Fprintf(&b, "TimeoutStopSec=%d\n", int(u.StopTimeout(defaultStop).Seconds()))
	b.WriteString("KillMode=mixed\n")
	b.WriteString("KillSignal=SIGTERM\n")

	b.WriteString("\n[Install]\n")
	fmt.Fprintf(&b, "WantedBy=%s\n", u.WantedBy)

	return b.String(), nil
}

func exportType(t StartType) string {
	switch t {
	case TypeNotify:
		return "notify"
	default:
		return "simple"
	}
}

func exportRestart(p RestartPolicy) string {
	switch p {
	case RestartAlways:
		return "always"
	case RestartNever:
		return "no"
	default:
		return "on-failure"
	}
}

func deviceUnitName(node string) string {
	escaped := strings.TrimPrefix(node, "/")
	escaped = strings.ReplaceAll(escaped, "-", "\\x2d")
	escaped = strings.ReplaceAll(escaped, "/", "-")
	return escaped + ".device"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
