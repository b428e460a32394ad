package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/store"
)

// ParkedRunStore persists parked runs (from pipeline.ParkStepAfter or
// pipeline.Retry) in a store.Store.
type ParkedRunStore struct {
	store store.Store
}

func NewParkedRunStore(s store.Store) *ParkedRunStore {
	return &ParkedRunStore{store: s}
}

// Save persists parked (insert or replace by run ID). The next step's input is
// stored as JSON.
func (s *ParkedRunStore) Save(ctx context.Context, parked pipeline.ParkedRun) error {
	inputJSON, err := marshalOptional(parked.InputForNextStep)
	if err != nil {
		return fmt.Errorf("marshal input for next step: %w", err)
	}
	if inputJSON == nil {
		inputJSON = []byte("null")
	}
	return s.store.SaveParkedRun(ctx, store.ParkedRun{
		RunID:         parked.RunID,
		RunName:       parked.RunName,
		PipelineName:  parked.PipelineName,
		NextStepIndex: parked.NextStepIndex,
		Input:         inputJSON,
		ResumeAt:      parked.ResumeAt,
	})
}

// PersistFunc returns a pipeline.ParkPersistWithTime saving to this store.
func (s *ParkedRunStore) PersistFunc() pipeline.ParkPersistWithTime {
	return s.Save
}

// AttemptStore returns s as a pipeline.AttemptStore so retry attempt counts
// survive restarts; use it with pipeline.ExponentialBackoffPersist.
func AttemptStore(s store.Store) pipeline.AttemptStore {
	return s
}

func marshalOptional(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
