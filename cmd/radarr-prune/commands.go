package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ChrisB0-2/radarr-prune/internal/auditor"
	"github.com/ChrisB0-2/radarr-prune/internal/auth"
	"github.com/ChrisB0-2/radarr-prune/internal/config"
	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/daemon"
	"github.com/ChrisB0-2/radarr-prune/internal/executor"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/metrics"
	"github.com/ChrisB0-2/radarr-prune/internal/planner"
)

func runCommand(g *globals) *cli.Command {
	var dryRun bool

	return &cli.Command{
		Name:  "run",
		Usage: "Run one prune pass and exit",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "log decisions without removing anything",
				Destination: &dryRun,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.validated()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Prune.DryRun = true
			}

			svc, err := startServices(cfg, g.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			p, err := svc.newPruner(cfg)
			if err != nil {
				return configError(err)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := c.Root().Writer
			sum, err := p.Run(ctx)
			if errors.Is(err, core.ErrDisabled) {
				g.log.Info("nothing to do", logger.F("reason", err.Error()))
				_, _ = fmt.Fprintf(out, "Skipped: %v\n", err)
				return nil
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(out, sum.Text)
			if sum.Errors > 0 {
				return fmt.Errorf("%d movies could not be removed", sum.Errors)
			}
			return nil
		},
	}
}

// planRow is the JSON shape of one plan line.
type planRow struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Year         int    `json:"year"`
	Reason       string `json:"reason"`
	Removed      bool   `json:"removed"`
	Planned      bool   `json:"planned"`
	Exempt       bool   `json:"exempt"`
	DownloadDate string `json:"download_date,omitempty"`
	TimeLeft     string `json:"time_left,omitempty"`
}

func newPlanRow(it core.PlanItem) planRow {
	row := planRow{
		ID:      it.Movie.ID,
		Title:   it.Movie.Title,
		Year:    it.Movie.Year,
		Reason:  string(it.Decision.Reason),
		Removed: it.Decision.IsRemoved,
		Planned: it.Decision.IsPlanned,
		Exempt:  it.Exempt,
	}
	if !it.Item.DownloadDate.IsZero() {
		row.DownloadDate = it.Item.DownloadDate.Format(time.RFC3339)
		row.TimeLeft = executor.FormatTimeLeft(it.TimeLeft)
	}
	return row
}

func planCommand(g *globals) *cli.Command {
	var (
		jsonOutput  bool
		actionsOnly bool
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Show what a run would do, without side effects",
		Description: `Evaluates every movie against the retention rules and prints the decision.
Nothing is removed, no marker files are written and no notifications are sent.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output one JSON object per movie",
				Destination: &jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "actions-only",
				Usage:       "only list movies that would be removed or are planned for removal",
				Destination: &actionsOnly,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.validated()
			if err != nil {
				return err
			}

			svc := &services{log: g.log, metrics: metrics.NewNoop()}
			p, err := svc.newPruner(cfg)
			if err != nil {
				return configError(err)
			}

			items, err := p.Plan(ctx)
			if err != nil {
				return err
			}
			slices.SortStableFunc(items, func(a, b core.PlanItem) int {
				if n := strings.Compare(a.Movie.SortTitle, b.Movie.SortTitle); n != 0 {
					return n
				}
				return strings.Compare(a.Movie.Title, b.Movie.Title)
			})

			out := c.Root().Writer
			if jsonOutput {
				enc := json.NewEncoder(out)
				for _, it := range items {
					if actionsOnly && !it.Decision.IsRemoved && !it.Decision.IsPlanned {
						continue
					}
					if err := enc.Encode(newPlanRow(it)); err != nil {
						return fmt.Errorf("encode plan: %w", err)
					}
				}
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TITLE\tYEAR\tDECISION\tDOWNLOADED\tTIME LEFT")
			for _, it := range items {
				if actionsOnly && !it.Decision.IsRemoved && !it.Decision.IsPlanned {
					continue
				}
				row := newPlanRow(it)
				downloaded, left := "-", "-"
				if row.DownloadDate != "" {
					downloaded = it.Item.DownloadDate.Local().Format(executor.DateLayout)
					left = row.TimeLeft
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", row.Title, row.Year, row.Reason, downloaded, left)
			}
			_ = w.Flush()

			removed, planned := planner.Counts(items)
			_, _ = fmt.Fprintf(out, "\n%d movies evaluated, %d would be removed, %d planned for removal within %d days.\n",
				len(items), removed, planned, cfg.Prune.WarnDaysAhead)
			return nil
		},
	}
}

func daemonCommand(g *globals) *cli.Command {
	var (
		schedule string
		addr     string
	)

	return &cli.Command{
		Name:  "daemon",
		Usage: "Run on a schedule and serve the control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "schedule",
				Usage:       "cron expression or descriptor (overrides daemon.schedule)",
				Destination: &schedule,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address (overrides daemon.http_addr)",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.validated()
			if err != nil {
				return err
			}
			ov := daemonOverrides{schedule: schedule, addr: addr, logLevel: g.logLevel}
			ov.apply(cfg)

			if cfg.Daemon.Schedule == "" {
				return configError(errors.New("daemon mode requires --schedule or daemon.schedule"))
			}
			if _, err := config.ParseSchedule(cfg.Daemon.Schedule); err != nil {
				return configError(fmt.Errorf("invalid schedule %q: %w", cfg.Daemon.Schedule, err))
			}

			authn, err := buildAuth(cfg)
			if err != nil {
				return configError(err)
			}

			svc, err := startServices(cfg, g.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			p, err := svc.newPruner(cfg)
			if err != nil {
				return configError(err)
			}

			d := daemon.New(g.log, p.Run, daemon.Config{
				Schedule: cfg.Daemon.Schedule,
				HTTPAddr: cfg.Daemon.HTTPAddr,
				Audit:    svc.auditReader(),
				Auth:     authn,
			})

			if cfg.Daemon.WatchConfig {
				if g.cfgPath == "" {
					g.log.Warn("daemon.watch_config is set but no config file is in use")
				} else {
					watchCtx, cancel := context.WithCancel(ctx)
					defer cancel()

					w := config.NewWatcher(g.cfgPath, 0, g.log)
					reload := reloader(g.log, svc, d, cfg, ov)
					go func() {
						if err := w.Watch(watchCtx, reload); err != nil {
							g.log.Warn("config watcher stopped", logger.F("error", err.Error()))
						}
					}()
				}
			}

			return d.Run(ctx)
		},
	}
}

// daemonOverrides are command-line values that win over every config reload.
type daemonOverrides struct {
	schedule string
	addr     string
	logLevel string
}

func (o daemonOverrides) apply(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.schedule != "" {
		cfg.Daemon.Schedule = o.schedule
	}
	if o.addr != "" {
		cfg.Daemon.HTTPAddr = o.addr
	}
}

// reloader swaps in a pruner built from each reloaded config. The audit store,
// metrics and HTTP listener are fixed for the life of the process.
func reloader(log logger.Logger, svc *services, d *daemon.Daemon, current *config.Config, ov daemonOverrides) func(*config.Config) {
	return func(next *config.Config) {
		ov.apply(next)

		if next.Audit.Path != current.Audit.Path {
			log.Warn("audit.path changed; restart to apply", logger.F("path", next.Audit.Path))
		}
		if next.Daemon.HTTPAddr != current.Daemon.HTTPAddr {
			log.Warn("daemon.http_addr changed; restart to apply", logger.F("addr", next.Daemon.HTTPAddr))
		}
		if next.Daemon.Auth != current.Daemon.Auth {
			log.Warn("daemon.auth changed; restart to apply")
		}

		p, err := svc.newPruner(next)
		if err != nil {
			log.Warn("config reload rejected", logger.F("error", err.Error()))
			return
		}
		d.SetRunFunc(p.Run)

		if err := d.Reschedule(next.Daemon.Schedule); err != nil {
			log.Warn("schedule not updated", logger.F("error", err.Error()))
		}

		if next.Logging.Level != current.Logging.Level {
			if lv, ok := log.(interface{ SetLevel(logger.Level) }); ok {
				if level, err := logger.ParseLevel(next.Logging.Level); err == nil {
					lv.SetLevel(level)
					log.Info("log level changed", logger.F("level", level.String()))
				}
			}
		}
		current = next
	}
}

func auditCommand(g *globals) *cli.Command {
	var dbPath string

	open := func() (*auditor.SQLiteAuditor, error) {
		path := dbPath
		if path == "" {
			path = g.cfg.Audit.Path
		}
		if path == "" {
			return nil, configError(errors.New("no audit database: set audit.path or --db"))
		}
		if !auditor.IsSQLitePath(path) {
			return nil, configError(fmt.Errorf("audit commands need a SQLite database, got %q", path))
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("audit database: %w", err)
		}
		return auditor.NewSQLite(auditor.SQLiteConfig{Path: path})
	}

	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the SQLite audit trail",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db",
				Usage:       "audit database (defaults to audit.path)",
				Destination: &dbPath,
			},
		},
		Commands: []*cli.Command{
			auditStatsCommand(open),
			auditVerifyCommand(open),
			auditQueryCommand(open),
			auditExportCommand(open),
		},
	}
}

type openAuditFunc func() (*auditor.SQLiteAuditor, error)

func auditStatsCommand(open openAuditFunc) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize recorded runs and decisions",
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.Stats(ctx)
			if err != nil {
				return fmt.Errorf("audit stats: %w", err)
			}

			w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "Records:\t%d\n", stats.TotalRecords)
			if stats.TotalRecords > 0 {
				_, _ = fmt.Fprintf(w, "First:\t%s\n", stats.FirstRecord.Local().Format(time.DateTime))
				_, _ = fmt.Fprintf(w, "Last:\t%s\n", stats.LastRecord.Local().Format(time.DateTime))
			}
			_, _ = fmt.Fprintf(w, "Runs:\t%d\n", stats.Runs)
			_, _ = fmt.Fprintf(w, "Removed:\t%d\n", stats.Removed)
			_, _ = fmt.Fprintf(w, "Planned:\t%d\n", stats.Planned)
			_, _ = fmt.Fprintf(w, "Errors:\t%d\n", stats.Errors)

			if len(stats.ByReason) > 0 {
				_, _ = fmt.Fprintln(w, "Decisions:")
				for _, r := range core.Reasons {
					if n, ok := stats.ByReason[string(r)]; ok {
						_, _ = fmt.Fprintf(w, "  %s\t%d\n", r, n)
					}
				}
			}
			return w.Flush()
		},
	}
}

func auditVerifyCommand(open openAuditFunc) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check every record against its checksum",
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			tampered, err := db.VerifyIntegrity(ctx)
			if err != nil {
				return fmt.Errorf("audit verify: %w", err)
			}

			out := c.Root().Writer
			if len(tampered) == 0 {
				_, _ = fmt.Fprintln(out, "Audit integrity OK")
				return nil
			}
			for _, id := range tampered {
				_, _ = fmt.Fprintf(out, "record %d: checksum mismatch\n", id)
			}
			return cli.Exit(fmt.Sprintf("%d audit records failed verification", len(tampered)), exitRuntime)
		},
	}
}

func auditQueryCommand(open openAuditFunc) *cli.Command {
	var (
		since      string
		filter     auditor.QueryFilter
		jsonOutput bool
	)

	return &cli.Command{
		Name:  "query",
		Usage: "List audit records, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "since",
				Usage:       "RFC3339 time or look-back such as 24h or 7d",
				Destination: &since,
			},
			&cli.StringFlag{
				Name:        "reason",
				Usage:       "decision reason (keep-tag, removed, will-be-removed, ...)",
				Destination: &filter.Reason,
			},
			&cli.StringFlag{
				Name:        "action",
				Usage:       "plan, execute or run",
				Destination: &filter.Action,
			},
			&cli.StringFlag{
				Name:        "run-id",
				Usage:       "only records of this run",
				Destination: &filter.RunID,
			},
			&cli.StringFlag{
				Name:        "title",
				Usage:       "partial title match",
				Destination: &filter.Title,
			},
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "maximum records to print",
				Value:       50,
				Destination: &filter.Limit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output one JSON object per record",
				Destination: &jsonOutput,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if since != "" {
				t, err := daemon.ParseTimeParam(since, time.Now())
				if err != nil {
					return err
				}
				filter.Since = t
			}

			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.Query(ctx, filter)
			if err != nil {
				return err
			}

			out := c.Root().Writer
			if jsonOutput {
				enc := json.NewEncoder(out)
				for _, r := range records {
					if err := enc.Encode(r); err != nil {
						return fmt.Errorf("encode record: %w", err)
					}
				}
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIME\tACTION\tLEVEL\tREASON\tTITLE\tRUN")
			for _, r := range records {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format(time.DateTime),
					r.Action, r.Level, dash(r.Reason), dash(r.Title), shortID(r.RunID))
			}
			return w.Flush()
		},
	}
}

func auditExportCommand(open openAuditFunc) *cli.Command {
	var since, output string

	return &cli.Command{
		Name:  "export",
		Usage: "Write audit records as a JSON array",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "since",
				Usage:       "RFC3339 time or look-back such as 30d",
				Destination: &since,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "file to write (stdout when empty)",
				Destination: &output,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var from time.Time
			if since != "" {
				t, err := daemon.ParseTimeParam(since, time.Now())
				if err != nil {
					return err
				}
				from = t
			}

			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			data, err := db.Export(ctx, from)
			if err != nil {
				return fmt.Errorf("audit export: %w", err)
			}
			data = append(data, '\n')

			if output == "" {
				_, err = c.Root().Writer.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o600)
		},
	}
}

func configCommand(g *globals) *cli.Command {
	var force bool

	return &cli.Command{
		Name:  "config",
		Usage: "Validate or create configuration files",
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Load the config and report every problem",
				Action: func(ctx context.Context, c *cli.Command) error {
					if err := config.Validate(g.cfg); err != nil {
						_, _ = fmt.Fprint(c.Root().ErrWriter, err.Error())
						return cli.Exit("", exitConfig)
					}
					source := g.cfgPath
					if source == "" {
						source = "built-in defaults"
					}
					_, _ = fmt.Fprintf(c.Root().Writer, "Config OK (%s)\n", source)
					return nil
				},
			},
			{
				Name:  "keygen",
				Usage: "Print a new API key for daemon.auth",
				Action: func(ctx context.Context, c *cli.Command) error {
					key, err := auth.GenerateKey()
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(c.Root().Writer, key)
					return nil
				},
			},
			{
				Name:      "init",
				Usage:     "Write a config file with default values",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "overwrite an existing file",
						Destination: &force,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					path := c.Args().First()
					if path == "" {
						path = "radarr-prune.yaml"
					}
					if _, err := os.Stat(path); err == nil && !force {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					}
					if err := config.Default().Save(path); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(c.Root().Writer, "Wrote %s\n", path)
					return nil
				},
			},
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return dash(id)
}
