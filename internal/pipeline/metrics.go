package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Определяем метрики Prometheus
var (
	stagesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_stages_total",
			Help: "Total number of pipeline stages executed.",
		},
		[]string{"stage", "status"}, // "success", "error"
	)
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stage execution.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~200s
		},
		[]string{"stage"},
	)
	stageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_stage_retries_total",
			Help: "Total number of retried stage call attempts.",
		},
		[]string{"stage"},
	)
	runsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_runs_failed_total",
			Help: "Total number of pipeline runs that ended in the error status.",
		},
		[]string{"stage"},
	)
)
