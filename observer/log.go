package observer

import (
	"context"
	"time"

	"github.com/dcshock/mlpipe/pipeline"
	"go.uber.org/zap"
)

// LogObserver writes one structured log line per pipeline and step event.
type LogObserver struct {
	log *zap.Logger
}

func NewLogObserver(log *zap.Logger) *LogObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogObserver{log: log}
}

var _ pipeline.Observer = (*LogObserver)(nil)

func runFields(run pipeline.RunInfo) []zap.Field {
	return []zap.Field{
		zap.String("pipeline", run.Pipeline),
		zap.String("run", run.Name),
		zap.String("run_id", run.ID),
	}
}

func (o *LogObserver) BeforePipeline(ctx context.Context, run pipeline.RunInfo, payload any) error {
	o.log.Debug("pipeline started", runFields(run)...)
	return nil
}

func (o *LogObserver) AfterPipeline(ctx context.Context, run pipeline.RunInfo, result any, err error) error {
	fields := runFields(run)
	status, _ := outcome(err)
	fields = append(fields, zap.String("status", string(status)))
	if err != nil && !pipeline.IsParked(err) {
		o.log.Warn("pipeline finished", append(fields, zap.Error(err))...)
		return nil
	}
	o.log.Debug("pipeline finished", fields...)
	return nil
}

func (o *LogObserver) BeforeStep(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, input any) error {
	o.log.Debug("step started", append(runFields(run), zap.String("step", s.Name), zap.Int("index", s.Index))...)
	return nil
}

func (o *LogObserver) AfterStep(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, input, output any, stepErr error, duration time.Duration) error {
	status, _ := outcome(stepErr)
	fields := append(runFields(run),
		zap.String("step", s.Name),
		zap.Int("index", s.Index),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
	if stepErr != nil && !pipeline.IsParked(stepErr) {
		o.log.Warn("step finished", append(fields, zap.Error(stepErr))...)
		return nil
	}
	o.log.Debug("step finished", fields...)
	return nil
}
