package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrParked is returned by ParkStep (and by Retry on retryable failure) after
// successfully persisting run state for later execution. Callers should treat it
// as "pipeline paused, not failed": do not retry the run; the resume job will
// run it when due.
var ErrParked = errors.New("pipeline parked for later execution")

func IsParked(err error) bool { return errors.Is(err, ErrParked) }

// RunState is the minimal state to persist so a pipeline run can be resumed after
// shutdown. When resuming, load RunState, get the original Pipeline by name, then
// run Steps[NextStepIndex:] with RunWithInput and StepOffset = NextStepIndex.
type RunState struct {
	RunID            string // same RunID used when the run started
	RunName          string
	PipelineName     string // name of the Pipeline (to look up Steps)
	NextStepIndex    int    // 0-based index of the first step to run when resuming
	InputForNextStep any    // value to pass as input to that step (must be serializable)
}

// ParkedRun extends RunState with the time when the run should be resumed.
type ParkedRun struct {
	RunState
	ResumeAt time.Time // zero = no time; caller decides when
}

// ParkPersist is called by ParkStep to save run state for later execution.
type ParkPersist func(ctx context.Context, state RunState) error

// ParkPersistWithTime is used by ParkStepAfter and Retry to save run state and a resume time.
type ParkPersistWithTime func(ctx context.Context, parked ParkedRun) error

func stateFromMeta(meta runMeta, next int, input any) RunState {
	return RunState{
		RunID:            meta.run.ID,
		RunName:          meta.run.Name,
		PipelineName:     meta.run.Pipeline,
		NextStepIndex:    next,
		InputForNextStep: input,
	}
}

// ParkStep is a step that persists the current run state and returns ErrParked so the
// pipeline stops without failing. The run resumes at the step after this one.
// Requires the pipeline to be run with RunOptions; otherwise the step returns an error.
func ParkStep(persist ParkPersist) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		meta, ok := runMetaFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("park: pipeline must be run with RunOptions")
		}
		if err := persist(ctx, stateFromMeta(meta, meta.step.Index+1, input)); err != nil {
			return nil, fmt.Errorf("park: persist: %w", err)
		}
		return nil, ErrParked
	}
}

// ParkStepAfter is like ParkStep but sets ResumeAt to now + delay before calling persist.
func ParkStepAfter(delay time.Duration, persist ParkPersistWithTime) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		meta, ok := runMetaFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("park: pipeline must be run with RunOptions")
		}
		parked := ParkedRun{
			RunState: stateFromMeta(meta, meta.step.Index+1, input),
			ResumeAt: time.Now().Add(delay),
		}
		if err := persist(ctx, parked); err != nil {
			return nil, fmt.Errorf("park: persist: %w", err)
		}
		return nil, ErrParked
	}
}
