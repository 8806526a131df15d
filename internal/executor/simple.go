package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/metrics"
)

// DateLayout is how download dates appear in messages.
const DateLayout = "2006-01-02 15:04:05"

// Delete error metric label.
const reasonDeleteFailed = "delete_failed"

// Simple acts on one plan item at a time.
// Only removals reach the library, and only in execute mode.
// If an Auditor is provided, it records an AuditEvent for each executed item.
type Simple struct {
	lib         core.Library
	deleteFiles bool
	aud         core.Auditor
	runID       string
	now         func() time.Time
	log         logger.Logger
	metrics     core.Metrics
}

// NewSimple creates an executor with no-op logging and metrics.
func NewSimple(lib core.Library, deleteFiles bool) *Simple {
	return &Simple{
		lib:         lib,
		deleteFiles: deleteFiles,
		now:         time.Now,
		log:         logger.NewNop(),
		metrics:     metrics.NewNoop(),
	}
}

// NewSimpleWithMetrics creates an executor with logger and metrics.
func NewSimpleWithMetrics(lib core.Library, deleteFiles bool, log logger.Logger, m core.Metrics) *Simple {
	e := NewSimple(lib, deleteFiles)
	if log != nil {
		e.log = log
	}
	if m != nil {
		e.metrics = m
	}
	return e
}

// WithAuditor attaches an auditor (optional). Safe to pass nil.
func (e *Simple) WithAuditor(aud core.Auditor, runID string) *Simple {
	e.aud = aud
	e.runID = runID
	return e
}

// WithClock replaces the clock used for result timestamps.
func (e *Simple) WithClock(now func() time.Time) *Simple {
	if now != nil {
		e.now = now
	}
	return e
}

// Execute performs the action for one PlanItem and renders its message.
//
// unwanted-genre always adds an import exclusion; an aged-out removal adds one
// unless the movie is exempt by month or tag.
func (e *Simple) Execute(ctx context.Context, item core.PlanItem, mode core.Mode) (res core.ActionResult) {
	start := e.now()

	res = core.ActionResult{
		MovieID:   item.Movie.ID,
		Title:     item.Movie.Label(),
		Reason:    item.Decision.Reason,
		Mode:      mode,
		StartedAt: start,
	}

	defer func() {
		if res.FinishedAt.IsZero() {
			res.FinishedAt = e.now()
		}
		e.record(ctx, item, res)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("Prune - CANCELED - %s", res.Title)
		return res
	}

	switch item.Decision.Reason {
	case core.ReasonUnwantedGenre, core.ReasonRemoved:
		exclusion := true
		if item.Decision.Reason == core.ReasonRemoved {
			exclusion = !item.Exempt
		}
		res.ImportExclusion = exclusion
		e.remove(ctx, item, mode, &res)

	case core.ReasonWillBeRemoved:
		e.metrics.IncMoviesPlanned()
		res.Message = WarningMessage(item)

	default:
		res.Message = SkipMessage(item)
	}

	return res
}

func (e *Simple) remove(ctx context.Context, item core.PlanItem, mode core.Mode, res *core.ActionResult) {
	label := removalLabel(item.Decision.Reason)

	switch mode {
	case core.ModeDryRun:
		res.Message = removalMessage(label, res.Title, ", dry run.", item.Item.DownloadDate)
		e.log.Debug("would remove movie",
			logger.F("movie_id", item.Movie.ID),
			logger.F("reason", string(item.Decision.Reason)))
		return

	case core.ModeExecute:
	default:
		res.Err = fmt.Errorf("invalid mode %q", mode)
		res.Message = removalMessage(label, res.Title, ", not removed.", item.Item.DownloadDate)
		return
	}

	if e.lib == nil {
		res.Err = errors.New("no library configured")
		res.Message = removalMessage(label, res.Title, ", not removed.", item.Item.DownloadDate)
		return
	}

	if err := e.lib.DeleteMovie(ctx, item.Movie.ID, e.deleteFiles, res.ImportExclusion); err != nil {
		e.log.Warn("delete failed",
			logger.F("movie_id", item.Movie.ID),
			logger.F("title", res.Title),
			logger.F("error", err.Error()))
		e.metrics.IncDeleteErrors(reasonDeleteFailed)
		res.Err = err
		res.Message = removalMessage(label, res.Title, ", delete failed.", item.Item.DownloadDate)
		return
	}

	e.metrics.IncMoviesRemoved(item.Decision.Reason)
	e.log.Info("movie removed",
		logger.F("movie_id", item.Movie.ID),
		logger.F("title", res.Title),
		logger.F("reason", string(item.Decision.Reason)),
		logger.F("files_deleted", e.deleteFiles),
		logger.F("import_exclusion", res.ImportExclusion))

	res.Deleted = true
	res.FilesDeleted = e.deleteFiles

	suffix := ", files preserved."
	if e.deleteFiles {
		suffix = ", files deleted."
	}
	res.Message = removalMessage(label, res.Title, suffix, item.Item.DownloadDate)
}

// record writes one audit event if an auditor is configured.
// Auditing must never break a run, so panics are swallowed.
func (e *Simple) record(ctx context.Context, item core.PlanItem, res core.ActionResult) {
	if e.aud == nil {
		return
	}

	defer func() { _ = recover() }()
	e.aud.Record(ctx, core.NewExecuteAuditEvent(e.runID, res.Mode, item, res))
}

func removalLabel(r core.Reason) string {
	if r == core.ReasonUnwantedGenre {
		return "UNWANTED"
	}
	return "REMOVED"
}

func removalMessage(label, title, suffix string, dl time.Time) string {
	return fmt.Sprintf("Prune - %s - %s%s - %s", label, title, suffix, formatDate(dl))
}

// WarningMessage renders the will-be-removed line with the time left.
func WarningMessage(item core.PlanItem) string {
	return fmt.Sprintf("Prune - WILL BE REMOVED - %s in %s - %s",
		item.Movie.Label(), FormatTimeLeft(item.TimeLeft), formatDate(item.Item.DownloadDate))
}

// SkipMessage renders the line for outcomes that leave the movie alone.
func SkipMessage(item core.PlanItem) string {
	title := item.Movie.Label()
	switch item.Decision.Reason {
	case core.ReasonKeepTag:
		return fmt.Sprintf("Prune - KEEPING - %s. Skipping.", title)
	case core.ReasonMissingFiles:
		return fmt.Sprintf("Prune - MISSING - %s is not downloaded yet. Skipping.", title)
	default:
		return fmt.Sprintf("Prune - ACTIVE - %s is active. Skipping. - %s", title, formatDate(item.Item.DownloadDate))
	}
}

// NewMessage renders the line logged when a movie's files are first seen.
func NewMessage(m core.Movie) string {
	return fmt.Sprintf("Prune - NEW - %s is new.", m.Label())
}

// FormatTimeLeft renders a duration as "5 days, 3h04" or "3h04".
func FormatTimeLeft(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	hm := fmt.Sprintf("%dh%02d", hours, minutes)
	switch days {
	case 0:
		return hm
	case 1:
		return "1 day, " + hm
	default:
		return fmt.Sprintf("%d days, %s", days, hm)
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(DateLayout)
}
