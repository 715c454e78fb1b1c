// Package undo reverses the recorded operations of a failed workflow.
// Strategies know how to reverse one kind of operation; the engine walks a
// workflow's log in LIFO order and applies them under a retry policy.
package undo

import (
	"context"
	"math/rand"
	"time"

	apperrors "katalyst/internal/errors"
)

// RetryPolicy controls how often and how patiently an undo action is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay after each retry.
	BackoffMultiplier float64

	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries everything.
	Retryable func(error) bool
}

// Execute runs the action until it reports success or the policy is
// exhausted. An error rejected by the predicate aborts immediately.
// Returns whether the action ultimately succeeded.
func (p RetryPolicy) Execute(ctx context.Context, action func(ctx context.Context) (bool, error)) bool {
	delay := p.InitialDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		ok, err := action(ctx)
		if ok {
			return true
		}
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return false
		}
		if attempt == p.MaxRetries {
			break
		}

		timer := time.NewTimer(jitter(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return false
}

// jitter spreads a delay by up to ±20% to avoid thundering herds.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	factor := 1 + (rand.Float64()-0.5)*0.4
	return time.Duration(float64(d) * factor)
}

// RetryAll retries every failure with moderate backoff.
func RetryAll() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryTransient retries only socket/timeout/IO-style failures.
func RetryTransient() RetryPolicy {
	p := RetryAll()
	p.Retryable = apperrors.IsTransient
	return p
}

// Aggressive retries quickly and often.
func Aggressive() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        5,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Conservative retries once with a long pause.
func Conservative() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        1,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 1.5,
	}
}
