package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

const namespace = "radarrprune"

// Prometheus implements core.Metrics using Prometheus client.
type Prometheus struct {
	// Planning metrics
	moviesScanned prometheus.Counter
	decisions     *prometheus.CounterVec

	// Execution metrics
	moviesRemoved *prometheus.CounterVec
	moviesPlanned prometheus.Counter
	deleteErrors  *prometheus.CounterVec
	notifyErrors  *prometheus.CounterVec

	// Run metrics
	diskUsage   prometheus.Gauge
	runDuration prometheus.Histogram
	lastRun     prometheus.Gauge
}

// NewPrometheus creates a new Prometheus metrics collector.
// All metrics are registered with the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Prometheus{
		moviesScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "movies_scanned_total",
			Help:      "Total number of movies evaluated",
		}),

		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "decisions_total",
			Help:      "Total retention decisions by reason",
		}, []string{"reason"}),

		moviesRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "movies_removed_total",
			Help:      "Total movies removed from the library by reason",
		}, []string{"reason"}),

		moviesPlanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "movies_planned_total",
			Help:      "Total warnings raised for upcoming removals",
		}),

		deleteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "delete_errors_total",
			Help:      "Total delete errors by reason",
		}, []string{"reason"}),

		notifyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "errors_total",
			Help:      "Total notification failures by channel",
		}, []string{"channel"}),

		diskUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "disk_usage_percent",
			Help:      "Disk usage percentage of the movie root folder at the last run",
		}),

		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Time spent in a prune run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}),

		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// Planning metrics

func (p *Prometheus) IncMoviesScanned() {
	p.moviesScanned.Inc()
}

func (p *Prometheus) IncDecision(reason core.Reason) {
	p.decisions.WithLabelValues(string(reason)).Inc()
}

// Execution metrics

func (p *Prometheus) IncMoviesRemoved(reason core.Reason) {
	p.moviesRemoved.WithLabelValues(string(reason)).Inc()
}

func (p *Prometheus) IncMoviesPlanned() {
	p.moviesPlanned.Inc()
}

func (p *Prometheus) IncDeleteErrors(reason string) {
	p.deleteErrors.WithLabelValues(reason).Inc()
}

func (p *Prometheus) IncNotifyErrors(channel string) {
	p.notifyErrors.WithLabelValues(channel).Inc()
}

// Run metrics

func (p *Prometheus) SetDiskUsage(percent float64) {
	p.diskUsage.Set(percent)
}

func (p *Prometheus) ObserveRunDuration(d time.Duration) {
	p.runDuration.Observe(d.Seconds())
}

func (p *Prometheus) SetLastRunTimestamp(t time.Time) {
	p.lastRun.Set(float64(t.Unix()))
}

// Ensure Prometheus implements core.Metrics
var _ core.Metrics = (*Prometheus)(nil)
