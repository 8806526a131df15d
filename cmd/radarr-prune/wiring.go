package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ChrisB0-2/radarr-prune/internal/auditor"
	"github.com/ChrisB0-2/radarr-prune/internal/auth"
	"github.com/ChrisB0-2/radarr-prune/internal/config"
	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/daemon"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/mailer"
	"github.com/ChrisB0-2/radarr-prune/internal/metrics"
	"github.com/ChrisB0-2/radarr-prune/internal/notifier"
	"github.com/ChrisB0-2/radarr-prune/internal/pidfile"
	"github.com/ChrisB0-2/radarr-prune/internal/pruner"
	"github.com/ChrisB0-2/radarr-prune/internal/radarr"
)

// services holds the long-lived pieces shared by every pruner built from a
// config snapshot: metrics and the audit store survive config reloads.
type services struct {
	log     logger.Logger
	metrics core.Metrics
	audit   auditor.Store // nil when auditing is off

	metricsServer *metrics.Server
	lock          *pidfile.PIDFile
}

// startServices takes the instance lock, then opens the audit store and,
// when enabled, the metrics endpoint.
func startServices(cfg *config.Config, log logger.Logger) (*services, error) {
	lock, err := pidfile.New(cfg.Prune.LockFile)
	if err != nil {
		return nil, err
	}
	svc := &services{log: log, metrics: metrics.NewNoop(), lock: lock}

	if cfg.Audit.Path != "" {
		store, err := auditor.Open(cfg.Audit.Path, cfg.Audit.Retention)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("audit init failed: %w", err)
		}
		svc.audit = store
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srv, err := metrics.Listen(cfg.Metrics.Addr, reg)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.metrics = metrics.NewPrometheus(reg)
		svc.metricsServer = srv

		log.Info("metrics server listening", logger.F("addr", srv.Addr()))
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error("metrics server error", logger.F("error", err.Error()))
			}
		}()
	}

	return svc, nil
}

// Close flushes the audit store, stops the metrics endpoint and releases the lock.
func (svc *services) Close() {
	if svc.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.metricsServer.Shutdown(ctx); err != nil {
			svc.log.Warn("metrics server shutdown error", logger.F("error", err.Error()))
		}
	}
	if svc.audit != nil {
		if err := svc.audit.Err(); err != nil {
			svc.log.Warn("audit write error", logger.F("error", err.Error()))
		}
		_ = svc.audit.Close()
	}
	if err := svc.lock.Close(); err != nil {
		svc.log.Warn("lock release error", logger.F("error", err.Error()))
	}
}

// buildAuth returns the daemon API authenticator, or nil when auth is off.
func buildAuth(cfg *config.Config) (auth.Authenticator, error) {
	if !cfg.Daemon.Auth.Enabled {
		return nil, nil
	}
	keys, err := auth.NewAPIKeys(auth.KeyConfig{
		Key:      cfg.Daemon.Auth.APIKey,
		KeysFile: cfg.Daemon.Auth.KeysFile,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon auth: %w", err)
	}
	return keys, nil
}

// auditReader exposes the audit store to the daemon API when it is queryable.
func (svc *services) auditReader() daemon.AuditReader {
	if db, ok := svc.audit.(*auditor.SQLiteAuditor); ok {
		return db
	}
	return nil
}

// newPruner wires a pruner for one config snapshot.
func (svc *services) newPruner(cfg *config.Config) (*pruner.Pruner, error) {
	lib, err := radarr.New(radarr.Config{
		URL:     cfg.Radarr.URL,
		APIKey:  cfg.Radarr.APIKey,
		Timeout: cfg.Radarr.Timeout,
	})
	if err != nil {
		return nil, err
	}

	opts := []pruner.Option{
		pruner.WithLogger(svc.log),
		pruner.WithMetrics(svc.metrics),
		pruner.WithNotifier(buildNotifier(cfg)),
	}
	if svc.audit != nil {
		opts = append(opts, pruner.WithAuditor(svc.audit))
	}
	if cfg.Mail.Enabled {
		opts = append(opts, pruner.WithMailer(mailer.New(mailer.Config{
			Server:    cfg.Mail.Server,
			Port:      cfg.Mail.Port,
			StartTLS:  cfg.Mail.StartTLS,
			Login:     cfg.Mail.Login,
			Password:  cfg.Mail.Password,
			Sender:    cfg.Mail.Sender,
			Receivers: cfg.Mail.Receivers,
		})))
	}

	return pruner.New(cfg, lib, opts...), nil
}

// buildNotifier fans out to Pushover and every configured webhook.
func buildNotifier(cfg *config.Config) *notifier.MultiNotifier {
	multi := notifier.NewMultiNotifier()

	if cfg.Pushover.Enabled {
		multi.Add(notifier.NewPushover(notifier.PushoverConfig{
			Token:   cfg.Pushover.Token,
			UserKey: cfg.Pushover.UserKey,
			Sound:   cfg.Pushover.Sound,
		}))
	}

	for _, wh := range cfg.Webhooks {
		events := make([]notifier.EventType, 0, len(wh.Events))
		for _, e := range wh.Events {
			events = append(events, notifier.EventType(e))
		}
		multi.Add(notifier.NewWebhook(notifier.WebhookConfig{
			URL:     wh.URL,
			Headers: wh.Headers,
			Events:  events,
			Timeout: wh.Timeout,
			Format:  wh.Format,
		}))
	}

	return multi
}
