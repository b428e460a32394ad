// Package memory is an in-process implementation of store.Store. Nothing
// survives the process; use it for tests and one-off runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dcshock/mlpipe/store"
	"github.com/google/uuid"
)

// Store is an in-memory store.Store.
type Store struct {
	mu        sync.RWMutex
	projects  map[string]store.Project
	pipelines map[string]store.Pipeline
	runs      map[string]store.Run
	steps     map[string]map[int]store.StepRun
	artifacts map[string][]store.Artifact
	parked    map[string]store.ParkedRun
	attempts  map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		projects:  make(map[string]store.Project),
		pipelines: make(map[string]store.Pipeline),
		runs:      make(map[string]store.Run),
		steps:     make(map[string]map[int]store.StepRun),
		artifacts: make(map[string][]store.Artifact),
		parked:    make(map[string]store.ParkedRun),
		attempts:  make(map[string]int),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateProject(_ context.Context, name string) (store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[name]; ok {
		return p, nil
	}
	p := store.Project{Name: name, CreatedAt: time.Now()}
	s.projects[name] = p
	return p, nil
}

func (s *Store) GetProject(_ context.Context, name string) (store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[name]
	if !ok {
		return store.Project{}, fmt.Errorf("%w: %s", store.ErrProjectNotFound, name)
	}
	return p, nil
}

func (s *Store) EnsurePipeline(_ context.Context, name, stack, project string) (store.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pipelines {
		if p.Name == name && p.Stack == stack && p.Project == project {
			return p, nil
		}
	}
	p := store.Pipeline{ID: uuid.New().String(), Name: name, Stack: stack, Project: project, CreatedAt: time.Now()}
	s.pipelines[p.ID] = p
	return p, nil
}

func (s *Store) GetPipeline(_ context.Context, name, stack string) (store.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.sortedPipelines() {
		if p.Name == name && (stack == "" || p.Stack == stack) {
			return p, nil
		}
	}
	return store.Pipeline{}, fmt.Errorf("%w: %s", store.ErrPipelineNotFound, name)
}

func (s *Store) ListPipelines(_ context.Context, filter store.Filter) ([]store.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Pipeline
	for _, p := range s.sortedPipelines() {
		if filter.Stack != "" && p.Stack != filter.Stack {
			continue
		}
		if filter.Project != "" && p.Project != filter.Project {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) sortedPipelines() []store.Pipeline {
	list := make([]store.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].Stack < list[j].Stack
	})
	return list
}

func (s *Store) StartRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID]; ok {
		existing.Status = store.StatusRunning
		existing.FinishedAt = time.Time{}
		existing.Error = ""
		s.runs[run.ID] = existing
		return nil
	}
	run.Status = store.StatusRunning
	run.FinishedAt = time.Time{}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) FinishRun(_ context.Context, runID string, status store.Status, errText string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	run.Status = status
	run.Error = errText
	run.FinishedAt = finishedAt
	s.runs[runID] = run
	return nil
}

func (s *Store) GetRun(_ context.Context, runID string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *Store) ListRuns(_ context.Context, pipelineID string) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Run
	for _, r := range s.runs {
		if r.PipelineID == pipelineID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) StartStep(_ context.Context, sr store.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[sr.RunID] == nil {
		s.steps[sr.RunID] = make(map[int]store.StepRun)
	}
	sr.Status = store.StatusRunning
	sr.Duration = 0
	sr.Error = ""
	s.steps[sr.RunID][sr.Index] = sr
	return nil
}

func (s *Store) FinishStep(_ context.Context, sr store.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.steps[sr.RunID][sr.Index]
	if !ok {
		return fmt.Errorf("step %d of run %s not started", sr.Index, sr.RunID)
	}
	existing.Status = sr.Status
	existing.Duration = sr.Duration
	existing.Error = sr.Error
	s.steps[sr.RunID][sr.Index] = existing
	return nil
}

func (s *Store) ListSteps(_ context.Context, runID string) ([]store.StepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.StepRun, 0, len(s.steps[runID]))
	for _, sr := range s.steps[runID] {
		out = append(out, sr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) AddArtifact(_ context.Context, a store.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.RunID] = append(s.artifacts[a.RunID], a)
	return nil
}

func (s *Store) ListArtifacts(_ context.Context, runID string) ([]store.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]store.Artifact(nil), s.artifacts[runID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StepIndex != out[j].StepIndex {
			return out[i].StepIndex < out[j].StepIndex
		}
		return out[i].Output < out[j].Output
	})
	return out, nil
}

func (s *Store) SaveParkedRun(_ context.Context, p store.ParkedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parked[p.RunID] = p
	return nil
}

func (s *Store) DueParkedRuns(_ context.Context, now time.Time) ([]store.ParkedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ParkedRun
	for _, p := range s.parked {
		if !p.ResumeAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResumeAt.Before(out[j].ResumeAt) })
	return out, nil
}

func (s *Store) DeleteParkedRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parked, runID)
	return nil
}

func (s *Store) GetAttempt(_ context.Context, runID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts[runID], nil
}

func (s *Store) SetAttempt(_ context.Context, runID string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[runID] = attempt
	return nil
}

func (s *Store) Close() error { return nil }
