// Package notify implements the readiness-notification channel between a
// supervised process and the supervisor.
//
// The wire contract matches sd_notify: the supervisor creates a unix datagram
// socket per instance, advertises it through the NOTIFY_SOCKET environment
// variable, and the child writes newline-separated KEY=VALUE assignments to
// it. READY=1 marks the instance ready exactly once; repeated READY datagrams
// are no-ops, and STATUS= lines update free-text instance status. Datagrams
// carry SCM_CREDENTIALS so the listener can discard readiness claims from
// processes other than the one it supervises.
//
// Because the syntax is sd_notify's, a daemon written against systemd's
// notification libraries reports readiness to roadie unchanged.
package notify
