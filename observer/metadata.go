package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/step"
	"github.com/dcshock/mlpipe/store"
)

// MetadataObserver records each pipeline run, its steps and artifacts in a
// store.Store so runs can be listed and resumed.
type MetadataObserver struct {
	store   store.Store
	stack   string
	project string
	now     func() time.Time

	mu        sync.Mutex
	pipelines map[string]string // pipeline name -> store ID
}

// NewMetadataObserver returns an observer writing to s. Pipelines are recorded
// under the given stack and project; the project is created on first use.
func NewMetadataObserver(s store.Store, stack, project string) *MetadataObserver {
	return &MetadataObserver{
		store:     s,
		stack:     stack,
		project:   project,
		now:       time.Now,
		pipelines: make(map[string]string),
	}
}

var (
	_ pipeline.Observer     = (*MetadataObserver)(nil)
	_ step.ArtifactRecorder = (*MetadataObserver)(nil)
)

func (o *MetadataObserver) pipelineID(ctx context.Context, name string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.pipelines[name]; ok {
		return id, nil
	}
	if _, err := o.store.CreateProject(ctx, o.project); err != nil {
		return "", err
	}
	p, err := o.store.EnsurePipeline(ctx, name, o.stack, o.project)
	if err != nil {
		return "", err
	}
	o.pipelines[name] = p.ID
	return p.ID, nil
}

// BeforePipeline records the run as running. A resumed run (same ID) is reset
// to running.
func (o *MetadataObserver) BeforePipeline(ctx context.Context, run pipeline.RunInfo, payload any) error {
	pid, err := o.pipelineID(ctx, run.Pipeline)
	if err != nil {
		return fmt.Errorf("record pipeline %q: %w", run.Pipeline, err)
	}
	return o.store.StartRun(ctx, store.Run{
		ID:         run.ID,
		Name:       run.Name,
		PipelineID: pid,
		StartedAt:  o.now(),
	})
}

func (o *MetadataObserver) AfterPipeline(ctx context.Context, run pipeline.RunInfo, result any, err error) error {
	status, errText := outcome(err)
	return o.store.FinishRun(ctx, run.ID, status, errText, o.now())
}

func (o *MetadataObserver) BeforeStep(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, input any) error {
	return o.store.StartStep(ctx, store.StepRun{
		RunID:     run.ID,
		Index:     s.Index,
		Name:      s.Name,
		StartedAt: o.now(),
	})
}

func (o *MetadataObserver) AfterStep(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, input, output any, stepErr error, duration time.Duration) error {
	status, errText := outcome(stepErr)
	return o.store.FinishStep(ctx, store.StepRun{
		RunID:    run.ID,
		Index:    s.Index,
		Name:     s.Name,
		Status:   status,
		Duration: duration,
		Error:    errText,
	})
}

// RecordArtifact implements step.ArtifactRecorder.
func (o *MetadataObserver) RecordArtifact(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, art step.Artifact) error {
	return o.store.AddArtifact(ctx, store.Artifact{
		RunID:        run.ID,
		StepIndex:    s.Index,
		StepName:     s.Name,
		Output:       art.Output,
		Materializer: art.Materializer,
		URI:          art.URI,
	})
}

// outcome maps a run or step error to its stored status.
func outcome(err error) (store.Status, string) {
	switch {
	case err == nil:
		return store.StatusSuccess, ""
	case pipeline.IsParked(err):
		return store.StatusParked, ""
	default:
		return store.StatusFailed, err.Error()
	}
}
