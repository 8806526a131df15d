package policy

import (
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

const day = 24 * time.Hour

// Evaluate classifies an item against a policy snapshot. Rules are checked in
// order and the first match wins. A zero now means the current instant.
func Evaluate(item core.Item, pol core.Policy, now time.Time) core.Decision {
	if now.IsZero() {
		now = time.Now()
	}

	if intersects(item.RetentionTags, pol.KeepTagIDs) {
		return core.Decision{Reason: core.ReasonKeepTag}
	}

	if item.DownloadDate.IsZero() {
		return core.Decision{Reason: core.ReasonMissingFiles}
	}

	if intersects(item.Genres, pol.UnwantedGenres) {
		return core.Decision{IsRemoved: true, Reason: core.ReasonUnwantedGenre}
	}

	retention := time.Duration(pol.RemoveAfterDays) * day
	left := item.DownloadDate.Add(retention).Sub(now)
	if left > 0 && left <= time.Duration(pol.WarnDaysAhead)*day {
		return core.Decision{IsPlanned: true, Reason: core.ReasonWillBeRemoved}
	}

	if now.Sub(item.DownloadDate) >= retention && pol.IsStorageFull && !IsExempt(item, pol) {
		return core.Decision{IsRemoved: true, Reason: core.ReasonRemoved}
	}

	return core.Decision{Reason: core.ReasonActive}
}

// IsExempt reports whether an aged-out item is spared: it was downloaded in an
// exemption month or carries a no-exclusion tag.
func IsExempt(item core.Item, pol core.Policy) bool {
	if !item.DownloadDate.IsZero() && containsInt(pol.NoExclusionMonths, int(item.DownloadDate.Month())) {
		return true
	}
	return intersects(item.RetentionTags, pol.NoExclusionTagIDs)
}

// TimeLeft returns how long until the item reaches the end of its retention
// window. It is negative once the window has passed.
func TimeLeft(item core.Item, pol core.Policy, now time.Time) time.Duration {
	if now.IsZero() {
		now = time.Now()
	}
	return item.DownloadDate.Add(time.Duration(pol.RemoveAfterDays) * day).Sub(now)
}

// Retention implements core.Evaluator.
type Retention struct{}

func NewRetention() *Retention { return &Retention{} }

func (*Retention) Evaluate(item core.Item, pol core.Policy, now time.Time) core.Decision {
	return Evaluate(item, pol, now)
}

func intersects[T comparable](a, b []T) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[T]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
