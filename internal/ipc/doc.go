// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response structs that
// form the wire protocol. The server embeds the daemon; the client is a thin
// dial-and-call wrapper the CLI and daemonctl build on. Shutdown is the one
// method whose effect reaches past the daemon: it asks the host process to
// exit, which is how `roadie daemon stop` terminates roadied.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
