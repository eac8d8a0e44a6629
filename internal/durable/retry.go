package durable

import (
	"context"
	"math/rand"
	"time"

	"sagaflow/internal/saga"
)

// RetryPolicy bounds how the bridge retries a step that keeps returning
// SystemError outcomes. Business failures are never retried; they are
// answers, not faults.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
}

// DefaultRetryPolicy returns the bridge's stock policy: four attempts,
// jittered exponential backoff from 50ms capped at 2s, 10s per call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Do executes fn under the policy, returning the first non-SystemError
// outcome or the last SystemError once attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) saga.Outcome) saga.Outcome {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}

	var last saga.Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return saga.SystemErrorFrom(err)
		}

		callCtx := ctx
		cancel := func() {}
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		out := fn(callCtx)
		cancel()

		if out.Status != saga.OutcomeSystemError {
			return out
		}
		last = out
		if attempt == attempts {
			break
		}

		delay := p.BaseDelay
		if delay > 0 {
			delay = delay << (attempt - 1)
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delay = jitter(delay)
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return saga.SystemErrorFrom(err)
			}
		}
	}
	return last
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
