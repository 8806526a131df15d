package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/ChrisB0-2/radarr-prune/internal/auth"
)

// ValidationError contains details about a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key so errors point at the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate performs comprehensive validation of the configuration.
// It returns all validation errors found (not just the first).
// Returns nil if the configuration is valid.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateStruct(cfg)...)
	// Backend settings only matter once pruning is switched on.
	if cfg.Prune.Enabled {
		errs = append(errs, ValidateRadarr(cfg.Radarr)...)
	}
	errs = append(errs, ValidatePrune(cfg.Prune)...)
	errs = append(errs, ValidateMail(cfg.Mail)...)
	errs = append(errs, ValidatePushover(cfg.Pushover)...)
	errs = append(errs, ValidateWebhooks(cfg.Webhooks)...)
	errs = append(errs, ValidateDaemon(cfg.Daemon)...)
	errs = append(errs, ValidateMetrics(cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateStruct runs the tag-level checks (ranges, enums).
func validateStruct(cfg *Config) []ValidationError {
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Field: "config", Message: err.Error()}}
	}

	errs := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   fieldPath(fe.Namespace()),
			Message: tagMessage(fe),
		})
	}
	return errs
}

// fieldPath drops the root struct name: "Config.prune.warn_days_ahead" -> "prune.warn_days_ahead".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte", "min":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte", "max":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// ValidateRadarr checks the backend connection settings.
func ValidateRadarr(r RadarrConfig) []ValidationError {
	var errs []ValidationError

	if !r.Enabled {
		return errs
	}

	if r.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "radarr.url",
			Message: "URL is required when radarr is enabled",
		})
	} else if msg := checkHTTPURL(r.URL); msg != "" {
		errs = append(errs, ValidationError{Field: "radarr.url", Message: msg})
	}

	if r.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "radarr.api_key",
			Message: "api key is required when radarr is enabled",
		})
	}

	return errs
}

// ValidatePrune checks the prune settings the struct tags cannot express.
// Day counts only need to be non-negative: a zero retention ages every
// download out at once, and a warning window longer than the retention
// warns from the first day.
func ValidatePrune(p PruneConfig) []ValidationError {
	var errs []ValidationError

	if len(p.VideoExtensions) == 0 {
		errs = append(errs, ValidationError{
			Field:   "prune.video_extensions",
			Message: "at least one extension is required to detect downloaded files",
		})
	}

	if p.FirstSeenMarker == "" || strings.ContainsAny(p.FirstSeenMarker, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "prune.firstseen_marker",
			Message: "must be a plain file name",
		})
	}

	seen := make(map[int]bool, len(p.NoExclusionMonths))
	for i, m := range p.NoExclusionMonths {
		if seen[m] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("prune.no_exclusion_months[%d]", i),
				Message: fmt.Sprintf("duplicate month %d", m),
			})
		}
		seen[m] = true
	}

	return errs
}

// ValidateMail checks the mail report settings.
func ValidateMail(m MailConfig) []ValidationError {
	var errs []ValidationError

	if !m.Enabled {
		return errs
	}

	if m.Server == "" {
		errs = append(errs, ValidationError{Field: "mail.server", Message: "server is required when mail is enabled"})
	}
	if m.Port == 0 {
		errs = append(errs, ValidationError{Field: "mail.port", Message: "port is required when mail is enabled"})
	}
	if m.Sender == "" {
		errs = append(errs, ValidationError{Field: "mail.sender", Message: "sender is required when mail is enabled"})
	}
	if len(m.Receivers) == 0 {
		errs = append(errs, ValidationError{Field: "mail.receivers", Message: "at least one receiver is required when mail is enabled"})
	}
	for i, r := range m.Receivers {
		if !strings.Contains(r, "@") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("mail.receivers[%d]", i),
				Message: fmt.Sprintf("invalid address %q", r),
			})
		}
	}

	return errs
}

// ValidatePushover checks push notification settings.
func ValidatePushover(p PushoverConfig) []ValidationError {
	var errs []ValidationError

	if !p.Enabled {
		return errs
	}
	if p.Token == "" {
		errs = append(errs, ValidationError{Field: "pushover.token", Message: "token is required when pushover is enabled"})
	}
	if p.UserKey == "" {
		errs = append(errs, ValidationError{Field: "pushover.user_key", Message: "user key is required when pushover is enabled"})
	}

	return errs
}

// ValidateWebhooks checks each webhook endpoint.
func ValidateWebhooks(hooks []WebhookConfig) []ValidationError {
	var errs []ValidationError

	for i, h := range hooks {
		field := fmt.Sprintf("webhooks[%d].url", i)
		if h.URL == "" {
			errs = append(errs, ValidationError{Field: field, Message: "URL is required"})
			continue
		}
		if msg := checkHTTPURL(h.URL); msg != "" {
			errs = append(errs, ValidationError{Field: field, Message: msg})
		}
	}

	return errs
}

// ValidateDaemon checks daemon configuration.
func ValidateDaemon(d DaemonConfig) []ValidationError {
	var errs []ValidationError

	if d.Enabled {
		if d.Schedule == "" {
			errs = append(errs, ValidationError{
				Field:   "daemon.schedule",
				Message: "schedule is required when daemon mode is enabled",
			})
		} else if _, err := ParseSchedule(d.Schedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "daemon.schedule",
				Message: fmt.Sprintf("invalid schedule %q: %v", d.Schedule, err),
			})
		}
	}

	if d.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(d.HTTPAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "daemon.http_addr",
				Message: fmt.Sprintf("invalid address %q: %v", d.HTTPAddr, err),
			})
		}
	}

	if d.Auth.Enabled {
		if d.Auth.APIKey == "" && d.Auth.KeysFile == "" {
			errs = append(errs, ValidationError{
				Field:   "daemon.auth",
				Message: "api_key or keys_file is required when auth is enabled",
			})
		}
		if d.Auth.APIKey != "" && !auth.ValidKey(d.Auth.APIKey) {
			errs = append(errs, ValidationError{
				Field:   "daemon.auth.api_key",
				Message: fmt.Sprintf("must be %s followed by 32 hex characters", auth.KeyPrefix),
			})
		}
	}

	return errs
}

// ValidateMetrics checks the metrics listener address.
func ValidateMetrics(m MetricsConfig) []ValidationError {
	var errs []ValidationError

	if m.Addr != "" {
		if _, _, err := net.SplitHostPort(m.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.addr",
				Message: fmt.Sprintf("invalid address %q: %v", m.Addr, err),
			})
		}
	}

	return errs
}

// ParseSchedule parses a standard 5-field cron expression or a descriptor
// such as "@daily" or "@every 6h".
func ParseSchedule(s string) (cron.Schedule, error) {
	return cron.ParseStandard(s)
}

func checkHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "URL must include a host"
	}
	return ""
}
