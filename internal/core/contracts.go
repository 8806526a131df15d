package core

import (
	"context"
	"errors"
	"strconv"
	"time"
)

type Mode string

const (
	ModeDryRun  Mode = "dry-run"
	ModeExecute Mode = "execute"
)

// Reason is the outcome label of a retention decision.
type Reason string

const (
	ReasonKeepTag       Reason = "keep-tag"
	ReasonMissingFiles  Reason = "missing-files"
	ReasonUnwantedGenre Reason = "unwanted-genre"
	ReasonWillBeRemoved Reason = "will-be-removed"
	ReasonRemoved       Reason = "removed"
	ReasonActive        Reason = "active"
)

// Reasons lists every decision reason in rule order.
var Reasons = []Reason{
	ReasonKeepTag,
	ReasonMissingFiles,
	ReasonUnwantedGenre,
	ReasonWillBeRemoved,
	ReasonRemoved,
	ReasonActive,
}

// Item is the evaluated view of a library entry.
type Item struct {
	RetentionTags []int
	Genres        []string
	DownloadDate  time.Time // zero = no media files seen yet
}

// Policy is the configuration snapshot a single evaluation runs against.
type Policy struct {
	KeepTagIDs        []int
	UnwantedGenres    []string
	RemoveAfterDays   int
	WarnDaysAhead     int
	NoExclusionTagIDs []int
	NoExclusionMonths []int // 1-12
	IsStorageFull     bool
}

// Decision is the evaluator output. At most one of IsRemoved/IsPlanned is set.
type Decision struct {
	IsRemoved bool
	IsPlanned bool
	Reason    Reason
}

// Movie is a library entry as reported by the backend.
type Movie struct {
	ID        int
	Title     string
	SortTitle string
	Year      int
	Path      string
	TagIDs    []int
	Genres    []string
	HasFile   bool
}

// Label renders "Title (Year)".
func (m Movie) Label() string {
	if m.Year == 0 {
		return m.Title
	}
	return m.Title + " (" + strconv.Itoa(m.Year) + ")"
}

type PlanItem struct {
	Movie    Movie
	Item     Item
	Decision Decision
	Exempt   bool          // month or tag exemption holds
	NewFiles bool          // first-seen marker was created during planning
	TimeLeft time.Duration // until the retention window ends; zero when not downloaded
}

type ActionResult struct {
	MovieID         int
	Title           string
	Reason          Reason
	Mode            Mode
	Deleted         bool
	FilesDeleted    bool
	ImportExclusion bool
	Message         string
	StartedAt       time.Time
	FinishedAt      time.Time
	Err             error
}

var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrRunInProgress      = errors.New("run already in progress")
	ErrDisabled           = errors.New("pruning disabled")
)

// Evaluator maps an item and policy snapshot to a decision.
type Evaluator interface {
	Evaluate(item Item, pol Policy, now time.Time) Decision
}

// Library is the media-management backend.
type Library interface {
	Ping(ctx context.Context) error
	Movies(ctx context.Context) ([]Movie, error)
	Tags(ctx context.Context) (map[string]int, error)
	RootFolders(ctx context.Context) ([]string, error)
	DeleteMovie(ctx context.Context, id int, deleteFiles, addImportExclusion bool) error
}

// FirstSeen resolves the moment media files first appeared in a movie directory.
type FirstSeen interface {
	DownloadDate(path string) (date time.Time, created bool, err error)
}

// DiskProbe reports storage pressure.
type DiskProbe interface {
	Check(ctx context.Context) (full bool, usedPct float64, err error)
}

type Auditor interface {
	Record(ctx context.Context, evt AuditEvent)
}

type AuditEvent struct {
	Time    time.Time
	Level   string
	Action  string
	RunID   string
	MovieID int
	Title   string
	Fields  map[string]any
	Err     error
}

// Metrics defines the interface for collecting operational metrics.
type Metrics interface {
	// Planning metrics
	IncMoviesScanned()
	IncDecision(reason Reason)

	// Execution metrics
	IncMoviesRemoved(reason Reason)
	IncMoviesPlanned()
	IncDeleteErrors(reason string)
	IncNotifyErrors(channel string)

	// Run metrics
	SetDiskUsage(percent float64)
	ObserveRunDuration(d time.Duration)
	SetLastRunTimestamp(t time.Time)
}
