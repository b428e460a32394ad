package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dcshock/mlpipe/metrics"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/step"
	"github.com/dcshock/mlpipe/store"
	"go.uber.org/zap"
)

// PipelineLookup returns the pipeline for the given name, or nil if this
// process cannot run it.
type PipelineLookup func(name string) *pipeline.Pipeline

// Resumer runs the remaining steps of parked runs whose resume time has come.
type Resumer struct {
	store  store.Store
	lookup PipelineLookup
	log    *zap.Logger
	now    func() time.Time
}

func NewResumer(s store.Store, lookup PipelineLookup, log *zap.Logger) *Resumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resumer{store: s, lookup: lookup, log: log, now: time.Now}
}

// RunDue resumes every parked run with a resume time at or before now, using
// obs for the resumed run (if obs also implements step.ArtifactRecorder it
// records artifacts). A run whose pipeline the lookup does not know is skipped
// and stays parked. The parked record is removed once the run completes or
// fails; a run that parks again keeps the record written by the parking step.
// It returns the number of runs resumed and the joined errors of failed runs.
func (r *Resumer) RunDue(ctx context.Context, obs pipeline.Observer) (int, error) {
	due, err := r.store.DueParkedRuns(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("get parked runs due: %w", err)
	}
	if rec, ok := obs.(step.ArtifactRecorder); ok {
		ctx = step.WithRecorder(ctx, rec)
	}
	var (
		resumed int
		errs    []error
	)
	for _, row := range due {
		ok, err := r.resumeOne(ctx, row, obs)
		if ok {
			resumed++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return resumed, errors.Join(errs...)
}

func (r *Resumer) resumeOne(ctx context.Context, row store.ParkedRun, obs pipeline.Observer) (bool, error) {
	log := r.log.With(zap.String("pipeline", row.PipelineName), zap.String("run", row.RunName))
	pl := r.lookup(row.PipelineName)
	if pl == nil {
		log.Warn("no pipeline registered for parked run; leaving it parked")
		return false, nil
	}
	if row.NextStepIndex >= len(pl.Steps) {
		return false, r.store.DeleteParkedRun(ctx, row.RunID)
	}
	var input any
	if len(row.Input) > 0 {
		if err := json.Unmarshal(row.Input, &input); err != nil {
			return false, fmt.Errorf("unmarshal input for run %s: %w", row.RunID, err)
		}
	}
	remaining := &pipeline.Pipeline{
		Name:  pl.Name,
		Steps: pl.Steps[row.NextStepIndex:],
	}
	opts := &pipeline.RunOptions{
		RunID:      row.RunID,
		RunName:    row.RunName,
		Observer:   obs,
		StepOffset: row.NextStepIndex,
	}
	log.Info("resuming parked run", zap.Int("next_step", row.NextStepIndex))
	metrics.NewCollector(pl.Name).IncResumedRuns()

	_, err := remaining.RunWithInput(ctx, input, opts)
	if pipeline.IsParked(err) {
		// the parking step replaced the record with a new resume time
		log.Info("resumed run parked again")
		return true, nil
	}
	if delErr := r.store.DeleteParkedRun(ctx, row.RunID); delErr != nil {
		err = errors.Join(err, fmt.Errorf("delete parked run %s: %w", row.RunID, delErr))
	}
	if err != nil {
		log.Error("resumed run failed", zap.Error(err))
		return true, fmt.Errorf("resume run %s: %w", row.RunID, err)
	}
	log.Info("resumed run finished")
	return true, nil
}
