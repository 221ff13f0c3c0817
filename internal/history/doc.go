// Package history persists instance lifecycles to SQLite so operators can
// audit restart cycles after the fact. The daemon writes a row per
// instance and updates it as the instance moves through its states.
package history
