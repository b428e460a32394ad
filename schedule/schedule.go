// Package schedule runs a job on a fixed interval inside a time window.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Schedule is a declarative time window and interval for recurring pipeline
// execution. A zero EndTime means "until the context is cancelled".
type Schedule struct {
	StartTime      time.Time
	EndTime        time.Time
	IntervalSecond int
}

// Interval returns IntervalSecond as a duration.
func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalSecond) * time.Second
}

// Validate checks that the interval is positive and the window is not empty.
func (s Schedule) Validate() error {
	if s.IntervalSecond <= 0 {
		return fmt.Errorf("schedule: interval_second must be positive, got %d", s.IntervalSecond)
	}
	if s.StartTime.IsZero() {
		return errors.New("schedule: start_time is required")
	}
	if !s.EndTime.IsZero() && !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("schedule: end_time %s must be after start_time %s",
			s.EndTime.Format(time.RFC3339), s.StartTime.Format(time.RFC3339))
	}
	return nil
}

// Job is invoked once per tick. An error is passed to Scheduler.OnError and
// does not stop the schedule.
type Job func(ctx context.Context) error

// Scheduler drives a Job from a Schedule using gocron.
type Scheduler struct {
	// OnError is called with each failed tick; may be nil.
	OnError func(err error)

	// Tick overrides Schedule.Interval when positive. IntervalSecond only allows
	// whole seconds.
	Tick time.Duration
}

// NewScheduler returns a Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Run blocks until the schedule's EndTime passes or ctx is cancelled, running job
// every interval starting at StartTime (immediately if StartTime is in the past).
// A tick that would overlap a still-running job is skipped. Returns the number of
// ticks that started.
func (s *Scheduler) Run(ctx context.Context, sched Schedule, job Job) (int, error) {
	if err := sched.Validate(); err != nil {
		return 0, err
	}
	interval := sched.Interval()
	if s.Tick > 0 {
		interval = s.Tick
	}
	now := time.Now()
	if !sched.EndTime.IsZero() && !sched.EndTime.After(now) {
		return 0, nil
	}

	gs, err := gocron.NewScheduler()
	if err != nil {
		return 0, fmt.Errorf("schedule: new scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ticks atomic.Int64
	task := func() {
		ticks.Add(1)
		if err := job(runCtx); err != nil && s.OnError != nil {
			s.OnError(err)
		}
	}

	start := gocron.WithStartImmediately()
	if sched.StartTime.After(now) {
		start = gocron.WithStartDateTime(sched.StartTime)
	}
	if _, err := gs.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithStartAt(start),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = gs.Shutdown()
		return 0, fmt.Errorf("schedule: new job: %w", err)
	}
	gs.Start()

	var deadline <-chan time.Time
	if !sched.EndTime.IsZero() {
		timer := time.NewTimer(time.Until(sched.EndTime))
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
	case <-deadline:
	}
	cancel()
	if err := gs.Shutdown(); err != nil {
		return int(ticks.Load()), fmt.Errorf("schedule: shutdown: %w", err)
	}
	return int(ticks.Load()), ctx.Err()
}
