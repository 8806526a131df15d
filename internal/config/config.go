package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for radarr-prune.
type Config struct {
	Version  int             `yaml:"version"`
	Radarr   RadarrConfig    `yaml:"radarr"`
	Prune    PruneConfig     `yaml:"prune"`
	Mail     MailConfig      `yaml:"mail"`
	Pushover PushoverConfig  `yaml:"pushover"`
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
	Audit    AuditConfig     `yaml:"audit"`
	Logging  LoggingConfig   `yaml:"logging"`
	Daemon   DaemonConfig    `yaml:"daemon"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// RadarrConfig configures the connection to the Radarr backend.
type RadarrConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0s"`
}

// PruneConfig configures the retention rules and how decisions are acted upon.
type PruneConfig struct {
	Enabled bool `yaml:"enabled"`
	DryRun  bool `yaml:"dry_run"`

	KeepTags          []string `yaml:"keep_tags"`
	UnwantedGenres    []string `yaml:"unwanted_genres"`
	RemoveAfterDays   int      `yaml:"remove_after_days" validate:"gte=0"`
	WarnDaysAhead     int      `yaml:"warn_days_ahead" validate:"gte=0"`
	NoExclusionTags   []string `yaml:"no_exclusion_tags"`
	NoExclusionMonths []int    `yaml:"no_exclusion_months" validate:"dive,min=1,max=12"`

	DiskThresholdPercent float64 `yaml:"disk_threshold_percent" validate:"gte=0,lte=100"`
	DiskPath             string  `yaml:"disk_path"`         // defaults to the first Radarr root folder
	RequireFullDisk      bool    `yaml:"require_full_disk"` // skip the whole library while storage is not full

	VideoExtensions        []string      `yaml:"video_extensions"`
	FirstSeenMarker        string        `yaml:"firstseen_marker"`
	DeleteFiles            bool          `yaml:"delete_files"`
	OnlyShowRemoveMessages bool          `yaml:"only_show_remove_messages"`
	ItemDelay              time.Duration `yaml:"item_delay" validate:"gte=0s"`
	RunLogPath             string        `yaml:"run_log_path"`
	LockFile               string        `yaml:"lock_file"` // single-instance lock, empty disables
}

// MailConfig configures the end-of-run report.
type MailConfig struct {
	Enabled         bool     `yaml:"enabled"`
	OnlyWhenRemoved bool     `yaml:"only_when_removed"`
	Server          string   `yaml:"server"`
	Port            int      `yaml:"port" validate:"gte=0,lte=65535"`
	StartTLS        bool     `yaml:"starttls"`
	Login           string   `yaml:"login"`
	Password        string   `yaml:"password"`
	Sender          string   `yaml:"sender"`
	Receivers       []string `yaml:"receivers"`
}

// PushoverConfig configures push notifications.
type PushoverConfig struct {
	Enabled bool   `yaml:"enabled"`
	UserKey string `yaml:"user_key"`
	Token   string `yaml:"token"`
	Sound   string `yaml:"sound"`
}

// WebhookConfig configures a webhook notification endpoint.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []string          `yaml:"events,omitempty"` // Empty = all events
	Timeout time.Duration     `yaml:"timeout,omitempty" validate:"gte=0s"`
	Format  string            `yaml:"format,omitempty" validate:"omitempty,oneof=json slack"`
}

// AuditConfig configures the decision audit trail.
type AuditConfig struct {
	Path      string        `yaml:"path"` // .db/.sqlite = SQLite, anything else = JSONL
	Retention time.Duration `yaml:"retention" validate:"gte=0s"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output"` // "stderr", "stdout", or file path
}

// DaemonConfig configures daemon mode.
type DaemonConfig struct {
	Enabled     bool   `yaml:"enabled"`
	HTTPAddr    string `yaml:"http_addr"`
	Schedule    string `yaml:"schedule"` // cron expression or "@every 6h"
	WatchConfig bool   `yaml:"watch_config"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig protects the daemon API with API keys. /health and /ready stay open.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`   // operator key
	KeysFile string `yaml:"keys_file"` // "key:role:name" per line
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Radarr: RadarrConfig{
			Enabled: true,
			URL:     "http://localhost:7878",
			Timeout: 30 * time.Second,
		},
		Prune: PruneConfig{
			Enabled:              false,
			DryRun:               true,
			KeepTags:             []string{},
			UnwantedGenres:       []string{},
			RemoveAfterDays:      90,
			WarnDaysAhead:        7,
			NoExclusionTags:      []string{},
			NoExclusionMonths:    []int{},
			DiskThresholdPercent: 90,
			RequireFullDisk:      true,
			VideoExtensions:      []string{".mkv", ".mp4", ".avi", ".m4v"},
			FirstSeenMarker:      ".firstseen",
			ItemDelay:            200 * time.Millisecond,
			RunLogPath:           "radarr-prune.log",
		},
		Mail: MailConfig{
			Port:     587,
			StartTLS: true,
		},
		Pushover: PushoverConfig{
			Sound: "pushover",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			Schedule: "0 3 * * *",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads config from path if it exists, otherwise returns defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"radarr-prune.yaml",
		"radarr-prune.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "radarr-prune", "config.yaml"),
		"/etc/radarr-prune/config.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Mode returns "dry-run" or "execute" for the prune section.
func (p PruneConfig) Mode() string {
	if p.DryRun {
		return "dry-run"
	}
	return "execute"
}
