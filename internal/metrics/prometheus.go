package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts jobs that reached a terminal state, by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repolish_jobs_total",
			Help: "Total number of repository jobs by terminal status",
		},
		[]string{"status"},
	)

	// WorkersActive tracks the number of worker units currently running.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repolish_workers_active",
			Help: "Number of worker units currently tracked by the supervisor",
		},
	)

	// FilesAnalyzed counts per-file analysis attempts by outcome.
	FilesAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repolish_files_analyzed_total",
			Help: "Total number of per-file analysis attempts",
		},
		[]string{"outcome"}, // succeeded | failed | skipped
	)

	// AnalysisDuration tracks the latency of single-file analysis calls.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repolish_analysis_duration_seconds",
			Help:    "Duration of single-file analysis calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
		},
	)

	// JobsSubmitted counts jobs accepted through the API.
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repolish_jobs_submitted_total",
			Help: "Total number of jobs accepted for processing",
		},
	)
)
