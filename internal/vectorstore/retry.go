package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy controls how transient (ErrUnavailable) failures are retried.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first; <1 means 1
	BaseDelay   time.Duration // delay before the second attempt
	Multiplier  float64       // growth factor applied after each retry
	MaxDelay    time.Duration // upper bound on a single delay; 0 means unbounded
}

// DefaultRetryPolicy starts at 500ms and doubles, five attempts in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry number n (n=1 is the first retry).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	limit := float64(math.MaxInt64)
	if p.MaxDelay > 0 {
		limit = float64(p.MaxDelay)
	}
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= mult
		if d >= limit {
			break
		}
	}
	if d >= limit {
		if p.MaxDelay > 0 {
			return p.MaxDelay
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	var (
		attempt int
		lastErr error
	)
	schedule := retry.BackoffFunc(func() (time.Duration, bool) {
		delay := p.Delay(attempt)
		if logger != nil {
			logger.Warn("vectorstore: retrying", "op", op, "attempt", attempt, "delay", delay, "error", lastErr)
		}
		return delay, false
	})
	b := retry.WithMaxRetries(uint64(p.attempts()-1), schedule)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && IsRetryable(err) {
			lastErr = err
			return retry.RetryableError(err)
		}
		return err
	})
}

var errPending = errors.New("vectorstore: condition pending")

// maxPollDelay bounds the wait between readiness polls.
const maxPollDelay = 10 * time.Second

// WaitFor polls cond until it reports done, returns an error, or ctx ends.
// Polling uses the policy's delay schedule, capped at MaxDelay and
// maxPollDelay, with no attempt limit.
func (p RetryPolicy) WaitFor(ctx context.Context, cond func(context.Context) (bool, error)) error {
	n := 0
	schedule := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		delay := p.Delay(n)
		switch {
		case delay <= 0:
			delay = 100 * time.Millisecond
		case delay > maxPollDelay:
			delay = maxPollDelay
		}
		return delay, false
	})
	return retry.Do(ctx, schedule, func(ctx context.Context) error {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if !done {
			return retry.RetryableError(errPending)
		}
		return nil
	})
}
