package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultUpdated   = "updated"
	resultUnchanged = "unchanged"
	resultFailed    = "failed"
)

type Metrics struct {
	recomputes *prometheus.CounterVec
	duration   prometheus.Histogram
	stale      prometheus.Counter
	factWrites *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		recomputes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "badger_recompute_total",
			Help: "Snapshot recomputations by triggering category and result.",
		}, []string{"category", "result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "badger_recompute_duration_seconds",
			Help:    "Time spent recomputing one snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
		stale: f.NewCounter(prometheus.CounterOpts{
			Name: "badger_stale_snapshots_total",
			Help: "Recomputations that failed after their fact was committed.",
		}),
		factWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "badger_fact_writes_total",
			Help: "Committed fact writes by category.",
		}, []string{"category"}),
	}
}
