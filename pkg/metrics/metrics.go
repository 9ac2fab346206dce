// Package metrics provides Prometheus instrumentation for pipeline runs.
// Counters track records and item errors per stage; a histogram tracks
// stage durations. Metrics are registered on the default registry and
// readable by any embedding process that exposes it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts successfully extracted records per stage.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemill_records_processed_total",
			Help: "Total records processed, labeled by stage",
		},
		[]string{"stage"},
	)

	// ItemErrors counts isolated per-item failures by stage.
	ItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemill_item_errors_total",
			Help: "Total per-item failures, labeled by stage",
		},
		[]string{"stage"},
	)

	// StageDuration observes wall-clock stage durations.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidemill_stage_duration_seconds",
			Help:    "Stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"stage"},
	)
)

// Timer measures one stage's duration.
type Timer struct {
	stage string
	start time.Time
}

// NewTimer starts timing a stage.
func NewTimer(stage string) *Timer {
	return &Timer{stage: stage, start: time.Now()}
}

// Stop records the elapsed duration and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	StageDuration.WithLabelValues(t.stage).Observe(d.Seconds())
	return d
}
