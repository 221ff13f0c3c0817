// Package logs provides unit output capture and file tailing shared by the
// daemon and the CLI.
//
// Capture appends timestamped stdout/stderr lines from supervised processes
// to per-unit log files. Tail streams those files (and the daemon's own log)
// with bounded memory usage, supports negative offsets for "last N lines"
// requests, and powers follow-mode updates for `roadie logs --follow`.
// Callers supply context deadlines so background polling shuts down cleanly
// when the CLI exits.
//
// Use this package whenever you need consistent log viewing semantics instead
// of re-implementing ad-hoc tail logic.
package logs
