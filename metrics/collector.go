package metrics

import "time"

// Collector wraps metrics with the pipeline label pre-filled.
type Collector struct {
	pipeline string
}

// NewCollector creates a Collector for the given pipeline.
func NewCollector(pipeline string) *Collector {
	return &Collector{pipeline: pipeline}
}

// RunStarted marks a run as in progress.
func (c *Collector) RunStarted() {
	PipelineRunsActive.WithLabelValues(c.pipeline).Inc()
}

// RunFinished records the outcome of a run started with RunStarted.
func (c *Collector) RunFinished(status string) {
	PipelineRunsActive.WithLabelValues(c.pipeline).Dec()
	PipelineRunsTotal.WithLabelValues(c.pipeline, status).Inc()
}

// StepFinished records a step outcome and its latency.
func (c *Collector) StepFinished(step, status string, d time.Duration) {
	StepRunsTotal.WithLabelValues(c.pipeline, step, status).Inc()
	StepDuration.WithLabelValues(c.pipeline, step).Observe(d.Seconds())
}

func (c *Collector) IncScheduledRuns() {
	ScheduledRunsTotal.WithLabelValues(c.pipeline).Inc()
}

func (c *Collector) IncResumedRuns() {
	ResumedRunsTotal.WithLabelValues(c.pipeline).Inc()
}
