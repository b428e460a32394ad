// Package storetest holds the behavioural tests every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dcshock/mlpipe/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run runs the suite against stores returned by newStore; each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Projects", func(t *testing.T) { testProjects(t, newStore(t)) })
	t.Run("Pipelines", func(t *testing.T) { testPipelines(t, newStore(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newStore(t)) })
	t.Run("Steps", func(t *testing.T) { testSteps(t, newStore(t)) })
	t.Run("Artifacts", func(t *testing.T) { testArtifacts(t, newStore(t)) })
	t.Run("ParkedRuns", func(t *testing.T) { testParkedRuns(t, newStore(t)) })
	t.Run("Attempts", func(t *testing.T) { testAttempts(t, newStore(t)) })
}

func testProjects(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetProject(ctx, "default")
	assert.True(t, errors.Is(err, store.ErrProjectNotFound))

	p, err := s.CreateProject(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name)

	again, err := s.CreateProject(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, p.Name, again.Name)

	got, err := s.GetProject(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "default", got.Name)
}

func testPipelines(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.EnsurePipeline(ctx, "mnist_pipeline", "local", "default")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	same, err := s.EnsurePipeline(ctx, "mnist_pipeline", "local", "default")
	require.NoError(t, err)
	assert.Equal(t, a.ID, same.ID)

	_, err = s.EnsurePipeline(ctx, "mnist_pipeline", "remote", "default")
	require.NoError(t, err)
	_, err = s.EnsurePipeline(ctx, "etl", "local", "other")
	require.NoError(t, err)

	all, err := s.ListPipelines(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "etl", all[0].Name)
	assert.Equal(t, "local", all[1].Stack)
	assert.Equal(t, "remote", all[2].Stack)

	local, err := s.ListPipelines(ctx, store.Filter{Stack: "local"})
	require.NoError(t, err)
	assert.Len(t, local, 2)

	byProject, err := s.ListPipelines(ctx, store.Filter{Project: "default", Stack: "remote"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, "mnist_pipeline", byProject[0].Name)

	got, err := s.GetPipeline(ctx, "mnist_pipeline", "remote")
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Stack)

	_, err = s.GetPipeline(ctx, "mnist_pipeline", "")
	require.NoError(t, err)

	_, err = s.GetPipeline(ctx, "missing", "")
	assert.True(t, errors.Is(err, store.ErrPipelineNotFound))
	_, err = s.GetPipeline(ctx, "etl", "remote")
	assert.True(t, errors.Is(err, store.ErrPipelineNotFound))
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, err := s.EnsurePipeline(ctx, "mnist_pipeline", "local", "default")
	require.NoError(t, err)

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.StartRun(ctx, store.Run{ID: "r2", Name: "second", PipelineID: p.ID, StartedAt: base.Add(time.Minute)}))
	require.NoError(t, s.StartRun(ctx, store.Run{ID: "r1", Name: "first", PipelineID: p.ID, StartedAt: base}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, run.Status)
	assert.True(t, run.StartedAt.Equal(base))
	assert.True(t, run.FinishedAt.IsZero())

	require.NoError(t, s.FinishRun(ctx, "r1", store.StatusFailed, "boom", base.Add(time.Second)))
	run, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)
	assert.True(t, run.FinishedAt.Equal(base.Add(time.Second)))

	// restarting a run (resume) clears the outcome but keeps the name
	require.NoError(t, s.StartRun(ctx, store.Run{ID: "r1", Name: "ignored", PipelineID: p.ID, StartedAt: base.Add(time.Hour)}))
	run, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, run.Status)
	assert.Equal(t, "first", run.Name)
	assert.Empty(t, run.Error)
	assert.True(t, run.FinishedAt.IsZero())

	names, err := store.RunNames(ctx, s, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names)

	err = s.FinishRun(ctx, "nope", store.StatusSuccess, "", base)
	assert.True(t, errors.Is(err, store.ErrRunNotFound))
	_, err = s.GetRun(ctx, "nope")
	assert.True(t, errors.Is(err, store.ErrRunNotFound))
}

func testSteps(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.StartStep(ctx, store.StepRun{RunID: "r1", Index: 1, Name: "trainer", StartedAt: base.Add(time.Second)}))
	require.NoError(t, s.StartStep(ctx, store.StepRun{RunID: "r1", Index: 0, Name: "importer", StartedAt: base}))
	require.NoError(t, s.FinishStep(ctx, store.StepRun{RunID: "r1", Index: 0, Status: store.StatusSuccess, Duration: 1500 * time.Millisecond}))
	require.NoError(t, s.FinishStep(ctx, store.StepRun{RunID: "r1", Index: 1, Status: store.StatusFailed, Error: "diverged"}))

	steps, err := s.ListSteps(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "importer", steps[0].Name)
	assert.Equal(t, store.StatusSuccess, steps[0].Status)
	assert.Equal(t, 1500*time.Millisecond, steps[0].Duration)
	assert.Equal(t, "trainer", steps[1].Name)
	assert.Equal(t, "diverged", steps[1].Error)

	// re-running a step resets it
	require.NoError(t, s.StartStep(ctx, store.StepRun{RunID: "r1", Index: 1, Name: "trainer", StartedAt: base.Add(time.Hour)}))
	steps, err = s.ListSteps(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, store.StatusRunning, steps[1].Status)
	assert.Empty(t, steps[1].Error)

	empty, err := s.ListSteps(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testArtifacts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.AddArtifact(ctx, store.Artifact{RunID: "r1", StepIndex: 1, StepName: "trainer", Output: "model", Materializer: "json", URI: "file:///tmp/model.json"}))
	require.NoError(t, s.AddArtifact(ctx, store.Artifact{RunID: "r1", StepIndex: 0, StepName: "importer", Output: "output", Materializer: "json", URI: "file:///tmp/data.json"}))
	require.NoError(t, s.AddArtifact(ctx, store.Artifact{RunID: "r2", StepIndex: 0, StepName: "importer", Output: "output", Materializer: "text", URI: "file:///tmp/other.txt"}))

	arts, err := s.ListArtifacts(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, "importer", arts[0].StepName)
	assert.Equal(t, "model", arts[1].Output)
	assert.Equal(t, "file:///tmp/model.json", arts[1].URI)
}

func testParkedRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.SaveParkedRun(ctx, store.ParkedRun{RunID: "late", RunName: "late-run", PipelineName: "p", NextStepIndex: 1, Input: []byte(`1`), ResumeAt: now.Add(time.Hour)}))
	require.NoError(t, s.SaveParkedRun(ctx, store.ParkedRun{RunID: "due", RunName: "due-run", PipelineName: "p", NextStepIndex: 2, Input: []byte(`{"a":1}`), ResumeAt: now.Add(-time.Minute)}))
	require.NoError(t, s.SaveParkedRun(ctx, store.ParkedRun{RunID: "older", RunName: "older-run", PipelineName: "p", NextStepIndex: 0, Input: []byte(`null`), ResumeAt: now.Add(-time.Hour)}))

	due, err := s.DueParkedRuns(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "older", due[0].RunID)
	assert.Equal(t, "due", due[1].RunID)
	assert.Equal(t, 2, due[1].NextStepIndex)
	assert.JSONEq(t, `{"a":1}`, string(due[1].Input))

	// saving again replaces
	require.NoError(t, s.SaveParkedRun(ctx, store.ParkedRun{RunID: "due", RunName: "due-run", PipelineName: "p", NextStepIndex: 3, Input: []byte(`2`), ResumeAt: now.Add(2 * time.Hour)}))
	require.NoError(t, s.DeleteParkedRun(ctx, "older"))

	due, err = s.DueParkedRuns(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.DueParkedRuns(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "late", due[0].RunID)
	assert.Equal(t, 3, due[1].NextStepIndex)
}

func testAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()

	n, err := s.GetAttempt(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.SetAttempt(ctx, "r1", 1))
	require.NoError(t, s.SetAttempt(ctx, "r1", 2))
	n, err = s.GetAttempt(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.SetAttempt(ctx, "r1", 0))
	n, err = s.GetAttempt(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
