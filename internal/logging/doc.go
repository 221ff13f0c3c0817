// Package logging assembles structured slog loggers and formatting helpers used
// across roadie components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes component-scoped child loggers so supervisor and daemon
// code tag log lines with the unit and instance they concern. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing guarantees as the rest of the system.
package logging
