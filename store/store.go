// Package store defines the metadata store (repository) that tracks projects,
// pipelines, runs and their steps. The CLI reads it; observers write it.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProjectNotFound indicates the project does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrPipelineNotFound indicates no pipeline matches the name (and stack).
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunNotFound indicates the run does not exist.
	ErrRunNotFound = errors.New("run not found")
)

// Status of a run or step run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusParked  Status = "parked"
)

type Project struct {
	Name      string
	CreatedAt time.Time
}

// Pipeline is a pipeline as recorded in the store. A pipeline name is unique
// per stack and project.
type Pipeline struct {
	ID        string
	Name      string
	Stack     string
	Project   string
	CreatedAt time.Time
}

type Run struct {
	ID         string
	Name       string
	PipelineID string
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Error      string
}

type StepRun struct {
	RunID     string
	Index     int
	Name      string
	Status    Status
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

type Artifact struct {
	RunID        string
	StepIndex    int
	StepName     string
	Output       string
	Materializer string
	URI          string
}

// ParkedRun is a run waiting to be resumed. Input is the JSON encoding of the
// value for the next step.
type ParkedRun struct {
	RunID         string
	RunName       string
	PipelineName  string
	NextStepIndex int
	Input         []byte
	ResumeAt      time.Time
}

// Filter narrows ListPipelines. Empty fields match everything.
type Filter struct {
	Stack   string
	Project string
}

// Store is the metadata store. Implementations must be safe for concurrent use.
type Store interface {
	// CreateProject creates a project; creating an existing project is a no-op.
	CreateProject(ctx context.Context, name string) (Project, error)
	// GetProject returns ErrProjectNotFound if the project does not exist.
	GetProject(ctx context.Context, name string) (Project, error)

	// EnsurePipeline returns the pipeline for (name, stack, project), creating it if needed.
	EnsurePipeline(ctx context.Context, name, stack, project string) (Pipeline, error)
	// GetPipeline returns the pipeline by name; an empty stack matches any stack.
	// Returns ErrPipelineNotFound if none matches.
	GetPipeline(ctx context.Context, name, stack string) (Pipeline, error)
	// ListPipelines returns pipelines ordered by name, then stack.
	ListPipelines(ctx context.Context, filter Filter) ([]Pipeline, error)

	// StartRun records a run as running. Starting an existing run (a resume)
	// resets its status and clears FinishedAt and Error.
	StartRun(ctx context.Context, run Run) error
	// FinishRun sets the final status. Returns ErrRunNotFound for unknown runs.
	FinishRun(ctx context.Context, runID string, status Status, errText string, finishedAt time.Time) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns the runs of a pipeline ordered by start time.
	ListRuns(ctx context.Context, pipelineID string) ([]Run, error)

	// StartStep records (or re-records, on resume) a step as running.
	StartStep(ctx context.Context, s StepRun) error
	FinishStep(ctx context.Context, s StepRun) error
	// ListSteps returns the step runs of a run ordered by index.
	ListSteps(ctx context.Context, runID string) ([]StepRun, error)

	AddArtifact(ctx context.Context, a Artifact) error
	// ListArtifacts returns artifacts of a run ordered by step index, then output.
	ListArtifacts(ctx context.Context, runID string) ([]Artifact, error)

	// SaveParkedRun inserts or replaces the parked run for RunID.
	SaveParkedRun(ctx context.Context, p ParkedRun) error
	// DueParkedRuns returns parked runs with ResumeAt <= now, oldest first.
	DueParkedRuns(ctx context.Context, now time.Time) ([]ParkedRun, error)
	DeleteParkedRun(ctx context.Context, runID string) error

	// GetAttempt returns 0 for runs without a recorded attempt.
	GetAttempt(ctx context.Context, runID string) (int, error)
	SetAttempt(ctx context.Context, runID string, attempt int) error

	Close() error
}

// RunNames returns the names of a pipeline's runs in start order.
func RunNames(ctx context.Context, s Store, pipelineID string) ([]string, error) {
	runs, err := s.ListRuns(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(runs))
	for _, r := range runs {
		names = append(names, r.Name)
	}
	return names, nil
}
