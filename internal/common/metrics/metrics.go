// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_transitions_total",
			Help: "Total number of pipeline stage transitions",
		},
		[]string{"from", "to"},
	)

	StageEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_evaluations_total",
			Help: "Total number of stage evaluations by outcome",
		},
		[]string{"suggested"},
	)

	SigningJobsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signing_jobs_started_total",
			Help: "Total number of signing jobs created",
		},
	)

	SigningJobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signing_job_outcomes_total",
			Help: "Terminal signing job outcomes",
		},
		[]string{"status"},
	)

	SigningSubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "signing_submit_duration_seconds",
			Help: "Duration of signing provider submissions in seconds",
		},
	)

	SigningRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signing_retries_total",
			Help: "Total number of signing job retries scheduled",
		},
	)

	SigningQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signing_queue_depth",
			Help: "Number of signing jobs waiting to be processed",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events received by result",
		},
		[]string{"result"},
	)
)
