package orchestrator

import (
	"context"
	"errors"
	"log"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/buildqueue/internal/config"
	"github.com/aristath/buildqueue/internal/persistence"
)

// HistoryRecorder writes build records to the store with exponential
// backoff retries behind a circuit breaker, so a struggling database does
// not hold executors up for long.
type HistoryRecorder struct {
	store   persistence.Store
	breaker *gobreaker.CircuitBreaker
	retry   config.RetryConfig
}

// NewHistoryRecorder wraps store.
func NewHistoryRecorder(store persistence.Store, retry config.RetryConfig) *HistoryRecorder {
	threshold := retry.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return &HistoryRecorder{
		store: store,
		retry: retry,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "history",
			MaxRequests: 1, // One probe write in half-open state
			Timeout:     retry.OpenTimeout.Std(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
			},
			IsSuccessful: func(err error) bool {
				// A caller giving up is not a store failure
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

// RecordBuild saves rec, retrying transient failures until the retry budget
// or ctx runs out. An open breaker fails immediately.
func (h *HistoryRecorder) RecordBuild(ctx context.Context, rec persistence.BuildRecord) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := h.breaker.Execute(func() (interface{}, error) {
			return nil, h.store.SaveRecord(ctx, rec)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	if h.retry.InitialInterval > 0 {
		policy.InitialInterval = h.retry.InitialInterval.Std()
	}
	if h.retry.MaxInterval > 0 {
		policy.MaxInterval = h.retry.MaxInterval.Std()
	}
	if h.retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = h.retry.MaxElapsedTime.Std()
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// History lists finished builds of taskName, newest first.
func (h *HistoryRecorder) History(ctx context.Context, taskName string, limit int) ([]persistence.BuildRecord, error) {
	return h.store.ListRecords(ctx, taskName, limit)
}

// Open reports whether writes are currently refused.
func (h *HistoryRecorder) Open() bool {
	return h.breaker.State() == gobreaker.StateOpen
}

