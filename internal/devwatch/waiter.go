package devwatch

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"roadie/internal/logging"
)

const defaultPollInterval = 3 * time.Second

// Waiter blocks until a device node exists. One Waiter serves one unit and
// may be reused across restarts: a crash caused by unplugging the
// controller keeps the unit parked here until the hardware returns.
type Waiter struct {
	device string
	poll   time.Duration
	logger *slog.Logger
}

// NewWaiter builds a waiter for a device node path. A non-positive poll
// interval falls back to the default.
func NewWaiter(device string, poll time.Duration, logger *slog.Logger) *Waiter {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Waiter{
		device: strings.TrimSpace(device),
		poll:   poll,
		logger: logging.NewComponentLogger(logger, "devwatch"),
	}
}

// Device returns the watched node path.
func (w *Waiter) Device() string {
	if w == nil {
		return ""
	}
	return w.device
}

// Wait returns once the device node exists, or with ctx's error on
// cancellation.
func (w *Waiter) Wait(ctx context.Context) error {
	if w == nil || w.device == "" {
		return nil
	}
	if deviceExists(w.device) {
		return nil
	}
	w.logger.Info("waiting for device", logging.String("device", w.device))

	queue, errs, stop := w.subscribe()
	if stop != nil {
		defer stop()
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case uevent := <-queue:
			if deviceExists(w.device) {
				w.logger.Info("device appeared",
					logging.String("device", w.device),
					logging.String("action", string(uevent.Action)),
				)
				return nil
			}
		case err := <-errs:
			w.logger.Warn("netlink monitor error", logging.Error(err))
		case <-ticker.C:
			if deviceExists(w.device) {
				w.logger.Info("device appeared", logging.String("device", w.device))
				return nil
			}
		}
	}
}

// subscribe connects to the udev netlink socket. Failure is non-fatal: the
// caller's poll ticker still covers device discovery.
func (w *Waiter) subscribe() (chan netlink.UEvent, chan error, func()) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Debug("netlink unavailable, relying on polling", logging.Error(err))
		return nil, nil, nil
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	action := "add|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{Action: &action})

	monitorQuit := conn.Monitor(queue, errs, rules)
	stop := func() {
		close(monitorQuit)
		_ = conn.Close()
	}
	return queue, errs, stop
}

func deviceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
