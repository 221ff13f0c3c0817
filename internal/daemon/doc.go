// Package daemon coordinates the long-running roadied process.
//
// It wires configuration, the unit store, one supervisor per installed
// unit, instance history, and push notifications into a single lifecycle
// with flock-based locking to prevent multiple instances. The daemon
// exposes the unit operations consumed by the IPC layer, reloads unit
// definitions when the units directory changes, and records every
// lifecycle event in the history store.
//
// Keep orchestration logic here: supervision mechanics live in the
// supervisor package while the daemon focuses on startup, shutdown, and
// fan-out of lifecycle events.
package daemon
