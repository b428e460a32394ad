package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// RetryPolicy configures how Retry retries a step via park/resume. Backoff is the
// delay before the run is resumed. If ShouldRetry is non-nil, only errors for which
// it returns true are retried; otherwise all errors are retried.
type RetryPolicy struct {
	Backoff     time.Duration
	ShouldRetry func(err error) bool
}

// Retryable marks err as retryable. Use with RetryPolicy.ShouldRetry so only
// these errors trigger a retry (e.g. transient failures), not permanent ones.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }
func RetryableErr(err error) error { return &Retryable{Err: err} }
func IsRetryable(err error) bool   { return errors.As(err, new(*Retryable)) }

// Retry wraps a step so that on retryable failure it persists a ParkedRun and
// returns ErrParked instead of blocking. The resumed run re-executes this step.
func Retry(inner StepFunc, policy RetryPolicy, persist ParkPersistWithTime) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		out, err := inner(ctx, input)
		if err == nil {
			return out, nil
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return nil, err
		}
		meta, ok := runMetaFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("retry: pipeline must be run with RunOptions")
		}
		// Re-run this step (same index), not the next one.
		parked := ParkedRun{
			RunState: stateFromMeta(meta, meta.step.Index, input),
			ResumeAt: time.Now().Add(policy.Backoff),
		}
		if err := persist(ctx, parked); err != nil {
			return nil, fmt.Errorf("retry: persist: %w", err)
		}
		return nil, ErrParked
	}
}

// ErrMaxAttempts is returned by the persist function from ExponentialBackoffPersist
// once a run has been parked MaxAttempts times.
var ErrMaxAttempts = errors.New("retry: max attempts reached")

// AttemptStore tracks how many times a run has been parked for retry.
type AttemptStore interface {
	GetAttempt(ctx context.Context, runID string) (int, error)
	SetAttempt(ctx context.Context, runID string, attempt int) error
}

// MemoryAttemptStore is a process-local AttemptStore.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]int
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string]int)}
}

func (s *MemoryAttemptStore) GetAttempt(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[runID], nil
}

func (s *MemoryAttemptStore) SetAttempt(_ context.Context, runID string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[runID] = attempt
	return nil
}

// ExponentialBackoffPolicy computes delay = Initial * Multiplier^attempt, capped at
// Cap when Cap > 0. MaxAttempts <= 0 means unlimited.
type ExponentialBackoffPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
	ShouldRetry func(err error) bool
}

// Delay returns the backoff for the given 0-based attempt.
func (p ExponentialBackoffPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.Initial) * math.Pow(mult, float64(attempt)))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

// ExponentialBackoffPersist wraps base so each park of the same run is scheduled
// further out. The attempt count is kept in store; once it reaches MaxAttempts the
// returned function fails with ErrMaxAttempts instead of persisting.
func ExponentialBackoffPersist(policy ExponentialBackoffPolicy, store AttemptStore, base ParkPersistWithTime) ParkPersistWithTime {
	return func(ctx context.Context, parked ParkedRun) error {
		attempt, err := store.GetAttempt(ctx, parked.RunID)
		if err != nil {
			return fmt.Errorf("get attempt: %w", err)
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return fmt.Errorf("run %s: %w (%d)", parked.RunID, ErrMaxAttempts, policy.MaxAttempts)
		}
		parked.ResumeAt = time.Now().Add(policy.Delay(attempt))
		if err := base(ctx, parked); err != nil {
			return err
		}
		return store.SetAttempt(ctx, parked.RunID, attempt+1)
	}
}

// RetryPolicyFromExponential adapts an exponential policy for Retry. The backoff
// there is only a placeholder; ExponentialBackoffPersist sets the real ResumeAt.
func RetryPolicyFromExponential(p ExponentialBackoffPolicy) RetryPolicy {
	return RetryPolicy{Backoff: p.Initial, ShouldRetry: p.ShouldRetry}
}
