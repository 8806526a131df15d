package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook payload formats.
const (
	FormatJSON  = "json"
	FormatSlack = "slack"
)

// WebhookConfig configures a webhook notification endpoint
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Events  []EventType // Empty = all events
	Timeout time.Duration
	Format  string // "json" (default) or "slack"
}

// Webhook sends notifications to HTTP endpoints
type Webhook struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhook creates a new webhook notifier
func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Webhook{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Notify sends a notification to the webhook endpoint
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	if !w.shouldNotify(msg.Event) {
		return nil
	}

	var payload any = msg
	if w.config.Format == FormatSlack {
		payload = SlackPayload(msg)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "radarr-prune/1.0")

	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (w *Webhook) shouldNotify(event EventType) bool {
	// Empty events list means notify for all events
	if len(w.config.Events) == 0 {
		return true
	}

	for _, e := range w.config.Events {
		if e == event {
			return true
		}
	}
	return false
}

// SlackPayload formats a message for a Slack incoming webhook
func SlackPayload(msg Message) map[string]interface{} {
	var color, title string
	switch msg.Event {
	case EventRunCompleted:
		if msg.Summary != nil && msg.Summary.Errors > 0 {
			color = "warning"
			title = "Radarr Prune Completed with Errors"
		} else {
			color = "good"
			title = "Radarr Prune Completed"
		}
	case EventRunFailed:
		color = "danger"
		title = "Radarr Prune Failed"
	case EventMovieRemoved, EventMovieUnwanted:
		color = "#E8A33D"
		title = "Movie Removed"
	case EventMovieWarning:
		color = "#439FE0"
		title = "Movie Will Be Removed"
	default:
		color = "#808080"
		title = fmt.Sprintf("Radarr Prune: %s", msg.Event)
	}

	fields := []map[string]interface{}{}
	if msg.Title != "" {
		fields = append(fields, map[string]interface{}{"title": "Movie", "value": msg.Title, "short": true})
	}

	if msg.Summary != nil {
		fields = append(fields,
			map[string]interface{}{"title": "Mode", "value": msg.Summary.Mode, "short": true},
			map[string]interface{}{"title": "Removed", "value": fmt.Sprintf("%d", msg.Summary.Removed), "short": true},
			map[string]interface{}{"title": "Planned", "value": fmt.Sprintf("%d", msg.Summary.Planned), "short": true},
			map[string]interface{}{"title": "Disk Usage", "value": fmt.Sprintf("%.1f%%", msg.Summary.DiskPercent), "short": true},
			map[string]interface{}{"title": "Duration", "value": msg.Summary.Duration, "short": true},
		)
		if msg.Summary.Errors > 0 {
			fields = append(fields,
				map[string]interface{}{"title": "Errors", "value": fmt.Sprintf("%d", msg.Summary.Errors), "short": true},
			)
		}
	}

	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  title,
				"text":   msg.Message,
				"fields": fields,
				"footer": "radarr-prune",
				"ts":     msg.Timestamp.Unix(),
			},
		},
	}
}
