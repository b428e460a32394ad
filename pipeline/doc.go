// Package pipeline is the execution engine behind mlpipe. A Pipeline runs named
// steps in order; each step's output is the next step's input. The engine knows
// nothing about materializers, parameters or metadata stores: those are layered
// on top by the step, flow and observer packages.
//
// Optional pre/post hooks (Observer) let you persist run state for monitoring and
// restart: BeforePipeline (write the run record), BeforeStep/AfterStep (step start,
// end, duration), AfterPipeline (final status). Pass RunOptions{Observer: obs}
// to Run or RunWithInput. Combine several observers with MultiObserver.
//
// For steps that can fail transiently, wrap them with Retry(step, policy, persist).
// On a retryable error Retry persists a ParkedRun (same step, ResumeAt = now +
// Backoff) and returns ErrParked; a resume job re-runs the step when due. Use
// RetryableErr(err) and policy.ShouldRetry (e.g. IsRetryable) to retry only marked
// errors. ExponentialBackoffPersist grows the delay per attempt and enforces
// MaxAttempts through an AttemptStore.
//
// To pause a run for later execution use ParkStep(persist) or
// ParkStepAfter(delay, persist). Treat ErrParked as "paused, not failed". Park
// only works when the pipeline is run with RunOptions (run metadata is injected
// into the step context; CurrentStep exposes it to step code).
//
// # Resuming
//
// Load the persisted RunState, look up the original pipeline by name and run the
// remaining steps with the same run ID and a step offset so observer indices
// match the original run:
//
//	remaining := &Pipeline{
//		Name:  saved.PipelineName,
//		Steps: original.Steps[saved.NextStepIndex:],
//	}
//	result, err := remaining.RunWithInput(ctx, saved.InputForNextStep, &RunOptions{
//		RunID:      saved.RunID,
//		RunName:    saved.RunName,
//		Observer:   obs,
//		StepOffset: saved.NextStepIndex,
//	})
package pipeline
