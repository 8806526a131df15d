package planner

import (
	"context"
	"sort"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/metrics"
	"github.com/ChrisB0-2/radarr-prune/internal/policy"
)

// Simple plans one movie at a time: it resolves the download date, evaluates
// the retention policy and records the exemption state.
type Simple struct {
	eval    core.Evaluator
	seen    core.FirstSeen
	log     logger.Logger
	metrics core.Metrics
	now     func() time.Time
}

// NewSimple creates a planner with no-op logging and metrics.
func NewSimple(eval core.Evaluator, seen core.FirstSeen) *Simple {
	return &Simple{
		eval:    eval,
		seen:    seen,
		log:     logger.NewNop(),
		metrics: metrics.NewNoop(),
		now:     time.Now,
	}
}

// NewSimpleWithLogger creates a planner with the given logger.
func NewSimpleWithLogger(eval core.Evaluator, seen core.FirstSeen, log logger.Logger) *Simple {
	p := NewSimple(eval, seen)
	if log != nil {
		p.log = log
	}
	return p
}

// WithMetrics attaches a metrics collector. Safe to pass nil.
func (p *Simple) WithMetrics(m core.Metrics) *Simple {
	if m != nil {
		p.metrics = m
	}
	return p
}

// WithClock replaces the evaluation clock.
func (p *Simple) WithClock(now func() time.Time) *Simple {
	if now != nil {
		p.now = now
	}
	return p
}

// PlanMovie evaluates a single movie. A failing first-seen lookup is logged
// and the movie is treated as not downloaded, so it can never be removed.
func (p *Simple) PlanMovie(ctx context.Context, m core.Movie, pol core.Policy) (core.PlanItem, error) {
	if err := ctx.Err(); err != nil {
		return core.PlanItem{}, err
	}

	item := core.Item{
		RetentionTags: m.TagIDs,
		Genres:        m.Genres,
	}

	dl, created, err := p.seen.DownloadDate(m.Path)
	if err != nil {
		p.log.Warn("first-seen lookup failed",
			logger.F("movie_id", m.ID),
			logger.F("path", m.Path),
			logger.F("error", err.Error()))
	} else {
		item.DownloadDate = dl
	}

	now := p.now()
	dec := p.eval.Evaluate(item, pol, now)

	p.metrics.IncMoviesScanned()
	p.metrics.IncDecision(dec.Reason)

	p.log.Debug("movie evaluated",
		logger.F("movie_id", m.ID),
		logger.F("title", m.Label()),
		logger.F("reason", string(dec.Reason)))

	it := core.PlanItem{
		Movie:    m,
		Item:     item,
		Decision: dec,
		Exempt:   policy.IsExempt(item, pol),
		NewFiles: created && err == nil,
	}
	if !item.DownloadDate.IsZero() {
		it.TimeLeft = policy.TimeLeft(item, pol, now)
	}
	return it, nil
}

// BuildPlan plans every movie in title order.
func (p *Simple) BuildPlan(ctx context.Context, movies []core.Movie, pol core.Policy) ([]core.PlanItem, error) {
	p.log.Debug("building plan", logger.F("movies", len(movies)))

	sorted := SortByTitle(movies)
	items := make([]core.PlanItem, 0, len(sorted))
	for _, m := range sorted {
		it, err := p.PlanMovie(ctx, m, pol)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	p.log.Info("plan built", logger.F("items", len(items)))
	return items, nil
}

// SortByTitle returns a copy of movies ordered by sort title, then title.
func SortByTitle(movies []core.Movie) []core.Movie {
	out := make([]core.Movie, len(movies))
	copy(out, movies)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortTitle != out[j].SortTitle {
			return out[i].SortTitle < out[j].SortTitle
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// Counts tallies removals and warnings in a plan.
func Counts(items []core.PlanItem) (removed, planned int) {
	for _, it := range items {
		if it.Decision.IsRemoved {
			removed++
		}
		if it.Decision.IsPlanned {
			planned++
		}
	}
	return removed, planned
}
