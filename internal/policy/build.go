package policy

import (
	"github.com/ChrisB0-2/radarr-prune/internal/config"
	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

// Build turns the prune config into a policy snapshot. Tag labels are
// resolved through tagIDs; labels the backend does not know are dropped.
func Build(cfg config.PruneConfig, tagIDs map[string]int, storageFull bool) core.Policy {
	return core.Policy{
		KeepTagIDs:        resolveTags(cfg.KeepTags, tagIDs),
		UnwantedGenres:    append([]string(nil), cfg.UnwantedGenres...),
		RemoveAfterDays:   cfg.RemoveAfterDays,
		WarnDaysAhead:     cfg.WarnDaysAhead,
		NoExclusionTagIDs: resolveTags(cfg.NoExclusionTags, tagIDs),
		NoExclusionMonths: append([]int(nil), cfg.NoExclusionMonths...),
		IsStorageFull:     storageFull,
	}
}

func resolveTags(labels []string, tagIDs map[string]int) []int {
	var ids []int
	for _, label := range labels {
		if id, ok := tagIDs[label]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
