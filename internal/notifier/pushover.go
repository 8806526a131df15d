package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPushoverEndpoint is the Pushover message API.
const DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

// PushoverConfig configures push notifications.
type PushoverConfig struct {
	Token    string
	UserKey  string
	Sound    string
	Title    string
	Endpoint string // defaults to DefaultPushoverEndpoint
	Timeout  time.Duration
}

// Pushover sends every message as a push notification.
type Pushover struct {
	config PushoverConfig
	client *http.Client
}

// NewPushover creates a Pushover notifier.
func NewPushover(cfg PushoverConfig) *Pushover {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultPushoverEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Pushover{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Pushover) Name() string { return "pushover" }

type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

// Notify posts msg.Message to the Pushover API.
func (p *Pushover) Notify(ctx context.Context, msg Message) error {
	if msg.Message == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", p.config.Token)
	form.Set("user", p.config.UserKey)
	form.Set("message", msg.Message)
	if p.config.Sound != "" {
		form.Set("sound", p.config.Sound)
	}
	if p.config.Title != "" {
		form.Set("title", p.config.Title)
	}
	if !msg.Timestamp.IsZero() {
		form.Set("timestamp", strconv.FormatInt(msg.Timestamp.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "radarr-prune/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var pr pushoverResponse
	_ = json.NewDecoder(resp.Body).Decode(&pr)

	if resp.StatusCode >= 400 || pr.Status != 1 {
		if len(pr.Errors) > 0 {
			return fmt.Errorf("pushover returned status %d: %s", resp.StatusCode, strings.Join(pr.Errors, "; "))
		}
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}
	return nil
}
