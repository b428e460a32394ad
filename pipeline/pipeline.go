package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepFunc is the body of a single step. It receives the output of the previous
// step (or the source) and returns the input for the next step.
type StepFunc func(ctx context.Context, input any) (any, error)

// Step is a named StepFunc. The name is what observers and the metadata store see.
type Step struct {
	Name string
	Run  StepFunc
}

// Pipeline runs a linear chain of steps (step1 | step2 | ...). Optionally
// Source can be set for standalone Run(ctx, opts); RunWithInput ignores it.
type Pipeline struct {
	Name   string
	Source func(ctx context.Context) (any, error) // optional; used only by Run
	Steps  []Step
}

// RunInfo identifies one execution of a pipeline.
type RunInfo struct {
	ID       string // unique run ID; a UUID is generated when RunOptions.RunID is empty
	Name     string // human-readable run name; defaults to ID
	Pipeline string
}

// StepInfo identifies a step within a run. Index is global: it includes
// RunOptions.StepOffset so a resumed run reports the same indices as the original.
type StepInfo struct {
	Index int
	Name  string
}

// Observer provides pre/post hooks for pipeline and step execution so you can
// persist run state (e.g. to a metadata store) for monitoring and restart.
// BeforePipeline is called before any step runs (write the run record here).
// BeforeStep/AfterStep are called around each step. AfterPipeline is called when
// the pipeline finishes (success, error or parked).
type Observer interface {
	BeforePipeline(ctx context.Context, run RunInfo, payload any) error
	AfterPipeline(ctx context.Context, run RunInfo, result any, err error) error
	BeforeStep(ctx context.Context, run RunInfo, step StepInfo, input any) error
	AfterStep(ctx context.Context, run RunInfo, step StepInfo, input, output any, stepErr error, duration time.Duration) error
}

// RunOptions attaches run identity and an optional Observer to a run.
// If RunID is empty a new UUID is generated. StepOffset is added to each step
// index reported to the Observer (use when resuming: run only the remaining
// steps and set StepOffset to the index of the first one).
type RunOptions struct {
	Observer   Observer
	RunID      string
	RunName    string
	StepOffset int
}

// Run executes the pipeline: runs the source (if non-nil), then runs each step in order.
// Returns the last step's output or the first error.
func (p *Pipeline) Run(ctx context.Context, opts *RunOptions) (any, error) {
	var out any
	var err error
	if p.Source != nil {
		out, err = p.Source(ctx)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
	}
	return p.RunWithInput(ctx, out, opts)
}

// RunWithInput runs the pipeline's steps starting with the given input. Each
// step's output is the next step's input. Returns the last step's output or the
// first error. With nil opts no run metadata is attached to the step context, so
// ParkStep and Retry cannot be used.
func (p *Pipeline) RunWithInput(ctx context.Context, input any, opts *RunOptions) (any, error) {
	if opts == nil {
		return p.runSteps(ctx, input, nil, nil, 0)
	}
	run := RunInfo{ID: opts.RunID, Name: opts.RunName, Pipeline: p.Name}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Name == "" {
		run.Name = run.ID
	}
	obs := opts.Observer
	if obs == nil {
		return p.runSteps(ctx, input, &run, nil, opts.StepOffset)
	}
	if err := obs.BeforePipeline(ctx, run, input); err != nil {
		return nil, fmt.Errorf("before pipeline: %w", err)
	}
	result, err := p.runSteps(ctx, input, &run, obs, opts.StepOffset)
	if postErr := obs.AfterPipeline(ctx, run, result, err); postErr != nil {
		// Don't mask pipeline error
		if err == nil {
			err = fmt.Errorf("after pipeline: %w", postErr)
		}
	}
	return result, err
}

func (p *Pipeline) runSteps(ctx context.Context, input any, run *RunInfo, obs Observer, stepOffset int) (any, error) {
	out := input
	for i, step := range p.Steps {
		info := StepInfo{Index: i + stepOffset, Name: step.Name}
		if step.Run == nil {
			return nil, fmt.Errorf("step %d (%s): no step function", info.Index, info.Name)
		}
		if obs != nil {
			if err := obs.BeforeStep(ctx, *run, info, out); err != nil {
				return nil, fmt.Errorf("before step %d: %w", info.Index, err)
			}
		}
		stepCtx := ctx
		if run != nil {
			stepCtx = context.WithValue(ctx, runMetaKey{}, runMeta{run: *run, step: info})
		}
		start := time.Now()
		next, stepErr := step.Run(stepCtx, out)
		duration := time.Since(start)
		if obs != nil {
			if postErr := obs.AfterStep(ctx, *run, info, out, next, stepErr, duration); postErr != nil {
				if stepErr == nil {
					stepErr = fmt.Errorf("after step: %w", postErr)
				}
			}
		}
		if stepErr != nil {
			return nil, fmt.Errorf("step %d (%s): %w", info.Index, info.Name, stepErr)
		}
		out = next
	}
	return out, nil
}

type runMetaKey struct{}

// runMeta carries the global step index, so a parked run resumes with
// Steps[NextStepIndex:] of the full pipeline even when it was itself resumed.
type runMeta struct {
	run  RunInfo
	step StepInfo
}

func runMetaFromContext(ctx context.Context) (runMeta, bool) {
	m, ok := ctx.Value(runMetaKey{}).(runMeta)
	return m, ok
}

// CurrentStep returns the run and step a StepFunc is executing in. It reports
// false when the pipeline was run without RunOptions.
func CurrentStep(ctx context.Context) (RunInfo, StepInfo, bool) {
	m, ok := runMetaFromContext(ctx)
	return m.run, m.step, ok
}
