// Package unit defines the declarative service unit model the supervisor
// consumes.
//
// A unit names the command to run, the environment it needs, its readiness
// type, and its restart policy. Units are TOML files in the configured units
// directory; they are written once at install time and read at every start
// attempt. The package owns parsing, validation, atomic installation, the
// systemd unit export used for boot-time activation, and a directory watcher
// that lets the daemon pick up newly installed units without restarting.
package unit
