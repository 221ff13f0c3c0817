// Package main hosts the roadie CLI entrypoint and command graph.
//
// The cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: unit lifecycle operations, status and history tables,
// log tailing, unit file scaffolding, and configuration management. It
// centralizes configuration resolution and socket discovery so subcommands
// can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
