package observer

import (
	"context"
	"sync"
	"time"

	"github.com/dcshock/mlpipe/metrics"
	"github.com/dcshock/mlpipe/pipeline"
)

// MetricsObserver records run and step counters and step latency in the
// Prometheus metrics of package metrics.
type MetricsObserver struct {
	mu         sync.Mutex
	collectors map[string]*metrics.Collector
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{collectors: make(map[string]*metrics.Collector)}
}

var _ pipeline.Observer = (*MetricsObserver)(nil)

func (o *MetricsObserver) collector(name string) *metrics.Collector {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.collectors[name]
	if !ok {
		c = metrics.NewCollector(name)
		o.collectors[name] = c
	}
	return c
}

func (o *MetricsObserver) BeforePipeline(ctx context.Context, run pipeline.RunInfo, payload any) error {
	o.collector(run.Pipeline).RunStarted()
	return nil
}

func (o *MetricsObserver) AfterPipeline(ctx context.Context, run pipeline.RunInfo, result any, err error) error {
	status, _ := outcome(err)
	o.collector(run.Pipeline).RunFinished(string(status))
	return nil
}

func (o *MetricsObserver) BeforeStep(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, input any) error {
	return nil
}

func (o *MetricsObserver) AfterStep(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, input, output any, stepErr error, duration time.Duration) error {
	status, _ := outcome(stepErr)
	o.collector(run.Pipeline).StepFinished(s.Name, string(status), duration)
	return nil
}
