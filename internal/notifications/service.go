package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"roadie/internal/config"
)

const userAgent = "Roadie/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifyUnitReady(ctx context.Context, unitName string, attempt int, latency time.Duration) error
	NotifyUnitFailure(ctx context.Context, unitName, reason, detail string, restarting bool) error
	NotifyUnitStopped(ctx context.Context, unitName string) error
	NotifyDaemonStarted(ctx context.Context, units int) error
	NotifyDaemonStopped(ctx context.Context, uptime time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint:     topic,
		client:       client,
		unitEvents:   cfg.Notifications.UnitEvents,
		daemonEvents: cfg.Notifications.DaemonEvents,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	unitEvents   bool
	daemonEvents bool
}

func (n *ntfyService) NotifyUnitReady(ctx context.Context, unitName string, attempt int, latency time.Duration) error {
	if !n.unitEvents {
		return nil
	}
	unitName = strings.TrimSpace(unitName)
	message := fmt.Sprintf("🎛️ %s ready", unitName)
	if latency > 0 {
		message = fmt.Sprintf("%s in %s", message, latency.Round(time.Millisecond))
	}
	if attempt > 1 {
		message = fmt.Sprintf("%s (attempt %d)", message, attempt)
	}
	data := payload{
		title:   "Roadie - Unit Ready",
		message: message,
		tags:    []string{"roadie", "unit", "ready"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUnitFailure(ctx context.Context, unitName, reason, detail string, restarting bool) error {
	if !n.unitEvents {
		return nil
	}
	unitName = strings.TrimSpace(unitName)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "failure"
	}

	var builder strings.Builder
	builder.WriteString("❌ ")
	builder.WriteString(unitName)
	builder.WriteString(" ")
	builder.WriteString(reason)
	if detail = strings.TrimSpace(detail); detail != "" {
		builder.WriteString(": ")
		builder.WriteString(detail)
	}
	if restarting {
		builder.WriteString("\nRestarting")
	} else {
		builder.WriteString("\nNot restarting")
	}

	data := payload{
		title:    "Roadie - Unit Failure",
		message:  builder.String(),
		tags:     []string{"roadie", "unit", "failure"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUnitStopped(ctx context.Context, unitName string) error {
	if !n.unitEvents {
		return nil
	}
	unitName = strings.TrimSpace(unitName)
	data := payload{
		title:   "Roadie - Unit Stopped",
		message: fmt.Sprintf("%s stopped", unitName),
		tags:    []string{"roadie", "unit", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, units int) error {
	if !n.daemonEvents {
		return nil
	}
	data := payload{
		title:   "Roadie - Daemon Started",
		message: fmt.Sprintf("Supervising %d units", units),
		tags:    []string{"roadie", "daemon", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonStopped(ctx context.Context, uptime time.Duration) error {
	if !n.daemonEvents {
		return nil
	}
	uptime = uptime.Round(time.Second)
	if uptime < 0 {
		uptime = 0
	}
	data := payload{
		title:   "Roadie - Daemon Stopped",
		message: fmt.Sprintf("Stopped after %s", uptime),
		tags:    []string{"roadie", "daemon", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Roadie - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"roadie", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyUnitReady(context.Context, string, int, time.Duration) error     { return nil }
func (noopService) NotifyUnitFailure(context.Context, string, string, string, bool) error { return nil }
func (noopService) NotifyUnitStopped(context.Context, string) error                       { return nil }
func (noopService) NotifyDaemonStarted(context.Context, int) error                        { return nil }
func (noopService) NotifyDaemonStopped(context.Context, time.Duration) error              { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
