// Package pruner runs one prune pass over the Radarr library: it probes
// storage, plans every movie, acts on the decisions and reports the outcome.
package pruner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisB0-2/radarr-prune/internal/config"
	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/disk"
	"github.com/ChrisB0-2/radarr-prune/internal/executor"
	"github.com/ChrisB0-2/radarr-prune/internal/firstseen"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/mailer"
	"github.com/ChrisB0-2/radarr-prune/internal/metrics"
	"github.com/ChrisB0-2/radarr-prune/internal/notifier"
	"github.com/ChrisB0-2/radarr-prune/internal/planner"
	"github.com/ChrisB0-2/radarr-prune/internal/policy"
	"github.com/ChrisB0-2/radarr-prune/internal/runlog"
)

const (
	msgStarted  = "Prune - Radarr Prune started."
	msgDisabled = "Library purge disabled"
	dryRunLine  = "**** DRY RUN, NOTHING WILL BE DELETED OR REMOVED ****"
)

// Mailer delivers the end-of-run report.
type Mailer interface {
	Report(ctx context.Context, removed, planned int, logName string, log []byte) error
}

// Summary is the outcome of one run.
type Summary struct {
	RunID       string    `json:"run_id"`
	Mode        core.Mode `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Evaluated   int       `json:"evaluated"`
	Removed     int       `json:"removed"`
	Planned     int       `json:"planned"`
	Errors      int       `json:"errors"`
	DiskPercent float64   `json:"disk_percent"`
	StorageFull bool      `json:"storage_full"`
	Skipped     bool      `json:"skipped"` // storage was not full, so no movie was evaluated
	Text        string    `json:"text,omitempty"`
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Notification converts the summary for notifiers.
func (s Summary) Notification(warnDays int) *notifier.RunSummary {
	return &notifier.RunSummary{
		RunID:       s.RunID,
		Mode:        string(s.Mode),
		Evaluated:   s.Evaluated,
		Removed:     s.Removed,
		Planned:     s.Planned,
		WarnDays:    warnDays,
		Errors:      s.Errors,
		DiskPercent: s.DiskPercent,
		StorageFull: s.StorageFull,
		Duration:    s.Duration().Round(time.Millisecond).String(),
		StartedAt:   s.StartedAt,
		CompletedAt: s.FinishedAt,
	}
}

// SummaryText renders the closing line of a run.
func SummaryText(removed, planned, warnDays int) string {
	return fmt.Sprintf("Prune - There were %d movies removed and %d movies planned to be removed within %d days.",
		removed, planned, warnDays)
}

// Pruner wires the library, policy, planner and executor for a config snapshot.
type Pruner struct {
	cfg     *config.Config
	lib     core.Library
	probe   core.DiskProbe
	seen    core.FirstSeen
	notify  notifier.Notifier
	mail    Mailer
	aud     core.Auditor
	runLog  *runlog.RunLog
	log     logger.Logger
	metrics core.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithLogger sets the structured logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pruner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m core.Metrics) Option {
	return func(p *Pruner) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithNotifier sets where per-movie and summary notifications go.
func WithNotifier(n notifier.Notifier) Option {
	return func(p *Pruner) {
		if n == nil {
			return
		}
		if mn, ok := n.(*notifier.MultiNotifier); ok {
			mn.OnError(func(channel string, _ error) { p.metrics.IncNotifyErrors(channel) })
		}
		p.notify = n
	}
}

// WithMailer enables the report mail.
func WithMailer(m Mailer) Option {
	return func(p *Pruner) { p.mail = m }
}

// WithAuditor records plan, execute and run events.
func WithAuditor(a core.Auditor) Option {
	return func(p *Pruner) { p.aud = a }
}

// WithRunLog replaces the run log built from prune.run_log_path.
func WithRunLog(l *runlog.RunLog) Option {
	return func(p *Pruner) {
		if l != nil {
			p.runLog = l
		}
	}
}

// WithDiskProbe replaces the probe built from the first root folder.
func WithDiskProbe(d core.DiskProbe) Option {
	return func(p *Pruner) { p.probe = d }
}

// WithFirstSeen replaces the marker-file tracker.
func WithFirstSeen(fs core.FirstSeen) Option {
	return func(p *Pruner) { p.seen = fs }
}

// WithClock replaces the clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleep replaces the pacing sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pruner) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// New creates a pruner for cfg. cfg must not be modified afterwards.
func New(cfg *config.Config, lib core.Library, opts ...Option) *Pruner {
	p := &Pruner{
		cfg:     cfg,
		lib:     lib,
		notify:  &notifier.NoopNotifier{},
		log:     logger.NewNop(),
		metrics: metrics.NewNoop(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.runLog == nil {
		p.runLog = runlog.New(cfg.Prune.RunLogPath)
	}
	p.runLog.Now = p.now
	return p
}

func (p *Pruner) mode() core.Mode {
	if p.cfg.Prune.DryRun {
		return core.ModeDryRun
	}
	return core.ModeExecute
}

func (p *Pruner) tracker(readOnly bool) core.FirstSeen {
	if p.seen != nil {
		return p.seen
	}
	t := firstseen.New(p.cfg.Prune.FirstSeenMarker, p.cfg.Prune.VideoExtensions)
	t.ReadOnly = readOnly
	t.Now = p.now
	return t
}

// environment is the library state a run evaluates against.
type environment struct {
	policy      core.Policy
	diskPercent float64
	storageFull bool
}

// prepare checks the backend and snapshots tags and disk usage.
func (p *Pruner) prepare(ctx context.Context) (environment, error) {
	var env environment

	if !p.cfg.Radarr.Enabled {
		return env, fmt.Errorf("radarr: %w", core.ErrDisabled)
	}
	if err := p.lib.Ping(ctx); err != nil {
		return env, err
	}

	tags, err := p.lib.Tags(ctx)
	if err != nil {
		return env, fmt.Errorf("load tags: %w", err)
	}
	roots, err := p.lib.RootFolders(ctx)
	if err != nil {
		return env, fmt.Errorf("load root folders: %w", err)
	}

	env.storageFull, env.diskPercent = p.checkDisk(ctx, roots)
	p.metrics.SetDiskUsage(env.diskPercent)

	env.policy = policy.Build(p.cfg.Prune, tags, env.storageFull)
	return env, nil
}

// checkDisk never fails: an unreadable disk counts as not full.
func (p *Pruner) checkDisk(ctx context.Context, roots []string) (bool, float64) {
	probe := p.probe
	if probe == nil {
		path := p.cfg.Prune.DiskPath
		if path == "" && len(roots) > 0 {
			path = roots[0]
		}
		probe = disk.NewProbe(path, p.cfg.Prune.DiskThresholdPercent)
	}

	full, pct, err := probe.Check(ctx)
	if err != nil {
		p.log.Warn("disk check failed", logger.F("error", err.Error()))
		return false, 0
	}
	p.log.Debug("disk checked",
		logger.F("used_percent", pct),
		logger.F("full", full))
	return full, pct
}

// Plan evaluates every movie without side effects: no deletions, no marker
// files, no notifications.
func (p *Pruner) Plan(ctx context.Context) ([]core.PlanItem, error) {
	env, err := p.prepare(ctx)
	if err != nil {
		return nil, err
	}

	movies, err := p.lib.Movies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load movies: %w", err)
	}

	pl := planner.NewSimpleWithLogger(policy.NewRetention(), p.tracker(true), p.log).
		WithMetrics(p.metrics).
		WithClock(p.now)
	return pl.BuildPlan(ctx, movies, env.policy)
}

// Run performs one prune pass. It returns core.ErrDisabled when pruning or the
// backend is switched off. Per-movie failures are counted in Summary.Errors
// and do not stop the run.
func (p *Pruner) Run(ctx context.Context) (sum Summary, err error) {
	sum = Summary{
		RunID:     uuid.NewString(),
		Mode:      p.mode(),
		StartedAt: p.now(),
	}
	log := p.log.WithFields(logger.F("run_id", sum.RunID))

	if !p.cfg.Prune.Enabled {
		log.Info(msgDisabled)
		return sum, core.ErrDisabled
	}

	defer func() {
		sum.FinishedAt = p.now()
		p.metrics.ObserveRunDuration(sum.Duration())
		p.metrics.SetLastRunTimestamp(sum.FinishedAt)
	}()

	env, err := p.prepare(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrDisabled) {
			p.fail(ctx, log, sum, err)
		}
		return sum, err
	}
	sum.DiskPercent = env.diskPercent
	sum.StorageFull = env.storageFull

	p.runLog.Start(msgStarted)
	log.Info(msgStarted, logger.F("mode", string(sum.Mode)))
	if sum.Mode == core.ModeDryRun {
		for _, line := range []string{dryRunLine, "Dry Run.", dryRunLine} {
			p.runLog.Write(line)
		}
		log.Info("Dry Run.")
	}

	if p.cfg.Prune.RequireFullDisk && !env.storageFull {
		sum.Skipped = true
		log.Info("storage not full, no movies evaluated",
			logger.F("used_percent", env.diskPercent),
			logger.F("threshold", p.cfg.Prune.DiskThresholdPercent))
	} else if err := p.processLibrary(ctx, log, env, &sum); err != nil {
		p.fail(ctx, log, sum, err)
		return sum, err
	}

	p.finish(ctx, log, &sum)
	return sum, nil
}

func (p *Pruner) processLibrary(ctx context.Context, log logger.Logger, env environment, sum *Summary) error {
	movies, err := p.lib.Movies(ctx)
	if err != nil {
		return fmt.Errorf("load movies: %w", err)
	}

	pl := planner.NewSimpleWithLogger(policy.NewRetention(), p.tracker(false), log).
		WithMetrics(p.metrics).
		WithClock(p.now)
	ex := executor.NewSimpleWithMetrics(p.lib, p.cfg.Prune.DeleteFiles, log, p.metrics).
		WithAuditor(p.aud, sum.RunID).
		WithClock(p.now)

	quiet := p.cfg.Prune.OnlyShowRemoveMessages

	for i, m := range planner.SortByTitle(movies) {
		if i > 0 {
			if err := p.sleep(ctx, p.cfg.Prune.ItemDelay); err != nil {
				return err
			}
		}

		it, err := pl.PlanMovie(ctx, m, env.policy)
		if err != nil {
			return err
		}
		sum.Evaluated++
		p.record(ctx, core.NewPlanAuditEvent(sum.RunID, sum.Mode, it))

		if it.NewFiles && !quiet {
			p.emit(log, executor.NewMessage(m))
		}

		res := ex.Execute(ctx, it, sum.Mode)

		switch it.Decision.Reason {
		case core.ReasonRemoved, core.ReasonUnwantedGenre:
			if res.Err != nil {
				sum.Errors++
				p.emit(log, res.Message)
				continue
			}
			sum.Removed++
			p.emit(log, res.Message)
			p.emitDisk(env.diskPercent)
			p.send(ctx, log, removalEvent(it.Decision.Reason), m, res.Message)

		case core.ReasonWillBeRemoved:
			sum.Planned++
			p.emit(log, res.Message)
			p.emitDisk(env.diskPercent)
			p.send(ctx, log, notifier.EventMovieWarning, m,
				fmt.Sprintf("Prune - %s will be removed from server in %s", m.Label(), executor.FormatTimeLeft(it.TimeLeft)))

		default:
			if !quiet {
				p.emit(log, res.Message)
			}
		}
	}
	return nil
}

func removalEvent(r core.Reason) notifier.EventType {
	if r == core.ReasonUnwantedGenre {
		return notifier.EventMovieUnwanted
	}
	return notifier.EventMovieRemoved
}

// finish writes the summary, notifies and mails the report.
func (p *Pruner) finish(ctx context.Context, log logger.Logger, sum *Summary) {
	warnDays := p.cfg.Prune.WarnDaysAhead
	sum.Text = SummaryText(sum.Removed, sum.Planned, warnDays)
	sum.FinishedAt = p.now()

	p.emit(log, sum.Text)
	log.Info("run complete",
		logger.F("evaluated", sum.Evaluated),
		logger.F("removed", sum.Removed),
		logger.F("planned", sum.Planned),
		logger.F("errors", sum.Errors),
		logger.F("duration", sum.Duration().String()))

	p.record(ctx, core.NewRunAuditEvent(sum.RunID, sum.Mode, sum.Removed, sum.Planned, sum.Evaluated, sum.DiskPercent))

	msg := notifier.NewMessage(notifier.EventRunCompleted, sum.Text)
	msg.Summary = sum.Notification(warnDays)
	p.deliver(ctx, log, msg)

	if p.mail != nil && mailer.ShouldSend(p.cfg.Mail.OnlyWhenRemoved, sum.Removed, sum.Planned) {
		if err := p.mail.Report(ctx, sum.Removed, sum.Planned, p.runLog.Name(), p.runLog.Bytes()); err != nil {
			p.metrics.IncNotifyErrors("mail")
			log.Error("mail report failed", logger.F("error", err.Error()))
		} else {
			log.Info("Prune - Mail Sent to " + strings.Join(p.cfg.Mail.Receivers, ", "))
		}
	}

	if err := p.runLog.Err(); err != nil {
		log.Warn("run log write failed", logger.F("error", err.Error()))
	}
}

// fail reports a run that stopped early.
func (p *Pruner) fail(ctx context.Context, log logger.Logger, sum Summary, err error) {
	log.Error("run failed", logger.F("error", err.Error()))

	sum.FinishedAt = p.now()
	msg := notifier.NewMessage(notifier.EventRunFailed, "Prune - Run failed: "+err.Error())
	msg.Summary = sum.Notification(p.cfg.Prune.WarnDaysAhead)
	// The run context may be the reason for the failure.
	p.deliver(context.WithoutCancel(ctx), log, msg)
}

// emit writes a decision line to the run log and the structured log.
func (p *Pruner) emit(log logger.Logger, line string) {
	p.runLog.Write(line)
	log.Info(line)
}

func (p *Pruner) emitDisk(pct float64) {
	p.runLog.Write(fmt.Sprintf("Percentage diskspace: %.1f%%", pct))
}

func (p *Pruner) send(ctx context.Context, log logger.Logger, event notifier.EventType, m core.Movie, text string) {
	msg := notifier.NewMessage(event, text)
	msg.MovieID = m.ID
	msg.Title = m.Label()
	p.deliver(ctx, log, msg)
}

func (p *Pruner) deliver(ctx context.Context, log logger.Logger, msg notifier.Message) {
	err := p.notify.Notify(ctx, msg)
	if err == nil {
		return
	}
	if _, multi := p.notify.(*notifier.MultiNotifier); !multi {
		p.metrics.IncNotifyErrors(notifier.ChannelName(p.notify))
	}
	log.Warn("notification failed",
		logger.F("event", string(msg.Event)),
		logger.F("error", err.Error()))
}

func (p *Pruner) record(ctx context.Context, evt core.AuditEvent) {
	if p.aud != nil {
		p.aud.Record(ctx, evt)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
