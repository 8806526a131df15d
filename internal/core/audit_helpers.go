package core

import "time"

// Canonical audit actions
const (
	AuditActionPlan    = "plan"
	AuditActionExecute = "execute"
	AuditActionRun     = "run"
)

// NewPlanAuditEvent standardizes plan-time audit shape.
func NewPlanAuditEvent(runID string, mode Mode, it PlanItem) AuditEvent {
	return AuditEvent{
		Time:    time.Now(),
		Level:   "info",
		Action:  AuditActionPlan,
		RunID:   runID,
		MovieID: it.Movie.ID,
		Title:   it.Movie.Label(),
		Fields: map[string]any{
			"mode":          string(mode),
			"reason":        string(it.Decision.Reason),
			"removed":       it.Decision.IsRemoved,
			"planned":       it.Decision.IsPlanned,
			"exempt":        it.Exempt,
			"download_date": downloadDateField(it.Item.DownloadDate),
			"path":          it.Movie.Path,
		},
	}
}

// NewExecuteAuditEvent standardizes execute-time audit shape.
func NewExecuteAuditEvent(runID string, mode Mode, it PlanItem, ar ActionResult) AuditEvent {
	level := "info"
	if ar.Err != nil {
		level = "error"
	}

	return AuditEvent{
		Time:    ar.FinishedAt,
		Level:   level,
		Action:  AuditActionExecute,
		RunID:   runID,
		MovieID: it.Movie.ID,
		Title:   it.Movie.Label(),
		Err:     ar.Err,
		Fields: map[string]any{
			"mode":             string(mode),
			"reason":           string(ar.Reason),
			"removed":          it.Decision.IsRemoved,
			"planned":          it.Decision.IsPlanned,
			"download_date":    downloadDateField(it.Item.DownloadDate),
			"deleted":          ar.Deleted,
			"files_deleted":    ar.FilesDeleted,
			"import_exclusion": ar.ImportExclusion,
			"message":          ar.Message,
		},
	}
}

// NewRunAuditEvent records the end-of-run counters.
func NewRunAuditEvent(runID string, mode Mode, removed, planned, evaluated int, diskPct float64) AuditEvent {
	return AuditEvent{
		Time:   time.Now(),
		Level:  "info",
		Action: AuditActionRun,
		RunID:  runID,
		Fields: map[string]any{
			"mode":         string(mode),
			"removed":      removed,
			"planned":      planned,
			"evaluated":    evaluated,
			"disk_percent": diskPct,
		},
	}
}

func downloadDateField(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
