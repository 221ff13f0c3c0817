// Package notifications delivers supervision events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Unit and daemon events can be toggled independently so a noisy
// crash loop can be silenced without losing daemon lifecycle alerts.
//
// Extend this package if you need alternative transports; the daemon depends
// only on the simple Service interface.
package notifications
