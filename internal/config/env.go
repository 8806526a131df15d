package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "RADARR_PRUNE_"

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win. A file
// that exists but cannot be parsed is an error.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays secrets and connection settings from the environment so
// they can stay out of the YAML file. Every malformed value is reported.
func ApplyEnv(cfg *Config) error {
	setString(&cfg.Radarr.URL, "RADARR_URL")
	setString(&cfg.Radarr.APIKey, "RADARR_API_KEY")
	setString(&cfg.Mail.Password, "MAIL_PASSWORD")
	setString(&cfg.Mail.Login, "MAIL_LOGIN")
	setString(&cfg.Pushover.Token, "PUSHOVER_TOKEN")
	setString(&cfg.Pushover.UserKey, "PUSHOVER_USER")
	setString(&cfg.Daemon.Auth.APIKey, "API_KEY")

	return errors.Join(
		setBool(&cfg.Prune.DryRun, "DRY_RUN"),
		setBool(&cfg.Prune.Enabled, "ENABLED"),
	)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
		*dst = v
	}
}

// setBool accepts the ON/OFF spelling used by older INI configs as well as true/false.
// An empty value leaves dst alone.
func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "":
	case "ON", "TRUE", "1", "YES":
		*dst = true
	case "OFF", "FALSE", "0", "NO":
		*dst = false
	default:
		return fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, key, v)
	}
	return nil
}
