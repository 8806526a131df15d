package metrics

import (
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

// Noop is a no-op implementation of core.Metrics.
// Use this when metrics collection is disabled.
type Noop struct{}

// NewNoop creates a new no-op metrics collector.
func NewNoop() *Noop {
	return &Noop{}
}

// Planning metrics
func (Noop) IncMoviesScanned()       {}
func (Noop) IncDecision(core.Reason) {}

// Execution metrics
func (Noop) IncMoviesRemoved(core.Reason) {}
func (Noop) IncMoviesPlanned()            {}
func (Noop) IncDeleteErrors(string)       {}
func (Noop) IncNotifyErrors(string)       {}

// Run metrics
func (Noop) SetDiskUsage(float64)             {}
func (Noop) ObserveRunDuration(time.Duration) {}
func (Noop) SetLastRunTimestamp(time.Time)    {}

// Ensure Noop implements core.Metrics
var _ core.Metrics = (*Noop)(nil)
