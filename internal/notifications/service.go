package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aoi/internal/config"
)

const userAgent = "aoi/0.1.0"

// Event names a notification type.
type Event string

const (
	EventSessionComplete   Event = "session_complete"
	EventSessionIncomplete Event = "session_incomplete"
	EventWriteFailed       Event = "write_failed"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries event fields by name.
type Payload map[string]any

// Service defines the notification surface exposed to the controller.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventSessionComplete:   cfg.Notifications.SessionComplete,
			EventSessionIncomplete: cfg.Notifications.SessionIncomplete,
			EventWriteFailed:       cfg.Notifications.Errors,
			EventError:             cfg.Notifications.Errors,
			EventTest:              true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventSessionComplete:
		body := fmt.Sprintf("✅ %s complete: %v images", text(payload, "serial"), payload["count"])
		if op := text(payload, "operator"); op != "" {
			body += " (operator " + op + ")"
		}
		return message{
			title: "aoi - Session Complete",
			body:  body,
			tags:  []string{"aoi", "session", "completed"},
		}, true
	case EventSessionIncomplete:
		return message{
			title:    "aoi - Session Incomplete",
			body:     fmt.Sprintf("⚠️ %s has %v of %v images", text(payload, "serial"), payload["count"], payload["expected"]),
			tags:     []string{"aoi", "session", "incomplete"},
			priority: "high",
		}, true
	case EventWriteFailed:
		return message{
			title:    "aoi - Write Failed",
			body:     fmt.Sprintf("❌ Could not save %s: %s", text(payload, "file"), text(payload, "error")),
			tags:     []string{"aoi", "disk", "error"},
			priority: "high",
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := text(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if errText := text(payload, "error"); errText != "" {
			builder.WriteString(errText)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "aoi - Error",
			body:     builder.String(),
			tags:     []string{"aoi", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "aoi - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"aoi", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func text(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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

// NewNoop returns a Service that drops every event.
func NewNoop() Service {
	return noopService{}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
