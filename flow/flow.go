// Package flow turns pipeline definitions into runnable pipelines.
//
// A Definition is the template of a pipeline: its name and the ordered step
// slots it expects. Instantiate fills every slot with a step.Step; the resulting
// Instance can take parameters from configuration and be run once or on a
// schedule.
//
//	def := &flow.Definition{Name: "mnist_pipeline", Steps: []string{"importer", "trainer"}}
//	inst, err := def.Instantiate(map[string]*step.Step{"importer": imp(), "trainer": tr()})
//	result, err := inst.Run(ctx, flow.RunOptions{Artifacts: artifact.NewLocalStore(".mlpipe")})
package flow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dcshock/mlpipe/artifact"
	"github.com/dcshock/mlpipe/logging"
	"github.com/dcshock/mlpipe/metrics"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/schedule"
	"github.com/dcshock/mlpipe/step"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Definition declares a pipeline by name and ordered step slots.
type Definition struct {
	Name  string
	Steps []string
}

// Instantiate binds one step per slot. Missing and unexpected slots are errors.
func (d *Definition) Instantiate(steps map[string]*step.Step) (*Instance, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("pipeline definition has no name")
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, slot := range d.Steps {
		if seen[slot] {
			return nil, fmt.Errorf("pipeline %q: duplicate step slot %q", d.Name, slot)
		}
		seen[slot] = true
		if steps[slot] == nil {
			return nil, fmt.Errorf("pipeline %q: missing step %q", d.Name, slot)
		}
	}
	var unexpected []string
	for name := range steps {
		if !seen[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, fmt.Errorf("pipeline %q: unexpected steps %s (expected %s)",
			d.Name, strings.Join(unexpected, ", "), strings.Join(d.Steps, ", "))
	}
	bound := make(map[string]*step.Step, len(steps))
	for k, v := range steps {
		bound[k] = v
	}
	return &Instance{def: d, steps: bound}, nil
}

// Instance is a definition with every step slot filled.
type Instance struct {
	def   *Definition
	steps map[string]*step.Step
}

func (i *Instance) Name() string { return i.def.Name }

// StepNames returns the slot names in execution order.
func (i *Instance) StepNames() []string { return append([]string(nil), i.def.Steps...) }

// Step returns the step bound to slot, or nil.
func (i *Instance) Step(slot string) *step.Step { return i.steps[slot] }

// WithConfig applies per-step parameters (step name -> parameters). A step name
// that is not part of the pipeline is an error. With overwriteStepParameters,
// configured values replace those already set on the step.
func (i *Instance) WithConfig(params map[string]step.Params, overwriteStepParameters bool) (*Instance, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, ok := i.steps[name]
		if !ok {
			return nil, fmt.Errorf("pipeline %q: configuration has step %q which is not part of the pipeline", i.def.Name, name)
		}
		s.WithParameters(params[name], overwriteStepParameters)
	}
	return i, nil
}

// Pipeline returns the engine pipeline. artifacts may be nil to skip persisting outputs.
func (i *Instance) Pipeline(artifacts *artifact.Store) *pipeline.Pipeline {
	p := &pipeline.Pipeline{Name: i.def.Name, Steps: make([]pipeline.Step, 0, len(i.def.Steps))}
	for _, slot := range i.def.Steps {
		p.Steps = append(p.Steps, i.steps[slot].Bind(slot, artifacts))
	}
	return p
}

// RunOptions configures Instance.Run.
type RunOptions struct {
	// RunName overrides the generated run name; ignored for scheduled runs.
	RunName string
	// Input is passed to the first step.
	Input any
	// Observer receives pipeline and step hooks. If it also implements
	// step.ArtifactRecorder it is used to record artifacts.
	Observer pipeline.Observer
	// Artifacts stores materialized outputs; nil disables persistence.
	Artifacts *artifact.Store
	// Schedule runs the pipeline repeatedly; Run then blocks until the window ends.
	Schedule *schedule.Schedule
	// Scheduler drives Schedule; a default one is used when nil.
	Scheduler *schedule.Scheduler
	// Logger defaults to logging.L().
	Logger *zap.Logger
}

// Run executes the pipeline once, or repeatedly when opts.Schedule is set. For a
// scheduled run the result is nil and failed ticks are logged, not returned.
func (i *Instance) Run(ctx context.Context, opts RunOptions) (any, error) {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	log = log.With(zap.String("pipeline", i.def.Name))
	if rec, ok := opts.Observer.(step.ArtifactRecorder); ok {
		ctx = step.WithRecorder(ctx, rec)
	}
	p := i.Pipeline(opts.Artifacts)

	if opts.Schedule == nil {
		return i.runOnce(ctx, p, opts, opts.RunName, log)
	}

	sched := *opts.Schedule
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = schedule.NewScheduler()
	}
	if scheduler.OnError == nil {
		scheduler.OnError = func(err error) {
			log.Error("scheduled run failed", zap.Error(err))
		}
	}
	log.Info("scheduling pipeline",
		zap.Time("start_time", sched.StartTime),
		zap.Time("end_time", sched.EndTime),
		zap.Int("interval_second", sched.IntervalSecond))
	collector := metrics.NewCollector(i.def.Name)
	ticks, err := scheduler.Run(ctx, sched, func(ctx context.Context) error {
		collector.IncScheduledRuns()
		_, err := i.runOnce(ctx, p, opts, "", log)
		return err
	})
	log.Info("schedule finished", zap.Int("runs", ticks))
	return nil, err
}

func (i *Instance) runOnce(ctx context.Context, p *pipeline.Pipeline, opts RunOptions, runName string, log *zap.Logger) (any, error) {
	if runName == "" {
		runName = RunName(i.def.Name, time.Now())
	}
	runOpts := &pipeline.RunOptions{
		Observer: opts.Observer,
		RunID:    uuid.New().String(),
		RunName:  runName,
	}
	log.Info("running pipeline", zap.String("run", runName))
	result, err := p.RunWithInput(ctx, opts.Input, runOpts)
	switch {
	case pipeline.IsParked(err):
		log.Info("pipeline run parked", zap.String("run", runName))
	case err != nil:
		log.Error("pipeline run failed", zap.String("run", runName), zap.Error(err))
	default:
		log.Info("pipeline run finished", zap.String("run", runName))
	}
	return result, err
}

// RunName builds the default run name: <pipeline>-<02_Jan_06-15_04_05_microseconds>.
func RunName(pipelineName string, t time.Time) string {
	return fmt.Sprintf("%s-%s_%06d", pipelineName, t.Format("02_Jan_06-15_04_05"), t.Nanosecond()/1000)
}
