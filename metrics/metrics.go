// Package metrics defines the Prometheus metrics recorded for pipeline runs and
// an optional HTTP server exposing them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineRunsTotal counts finished pipeline runs by outcome.
var PipelineRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlpipe_pipeline_runs_total",
		Help: "Total pipeline runs by status",
	},
	[]string{"pipeline", "status"},
)

// PipelineRunsActive is the number of pipeline runs in progress.
var PipelineRunsActive = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mlpipe_pipeline_runs_active",
		Help: "Pipeline runs currently in progress",
	},
	[]string{"pipeline"},
)

// StepRunsTotal counts finished steps by outcome.
var StepRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlpipe_step_runs_total",
		Help: "Total step executions by status",
	},
	[]string{"pipeline", "step", "status"},
)

// StepDuration tracks step latency.
var StepDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mlpipe_step_duration_seconds",
		Help:    "Step execution latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"pipeline", "step"},
)

// ScheduledRunsTotal counts runs started by a schedule.
var ScheduledRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlpipe_scheduled_runs_total",
		Help: "Total pipeline runs started by a schedule",
	},
	[]string{"pipeline"},
)

// ResumedRunsTotal counts parked runs picked up by the resumer.
var ResumedRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlpipe_resumed_runs_total",
		Help: "Total parked runs resumed",
	},
	[]string{"pipeline"},
)
