// Package devwatch delays unit launches until a required device node
// exists. It listens for udev netlink events and falls back to polling
// when the netlink socket is unavailable, so it works without privileges.
package devwatch
