package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"sagaflow/internal/saga"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := breaker.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})

	if err := breaker.Execute(func() error { return errors.New("boom") }); err == nil {
		t.Fatal("expected failure")
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected closed breaker, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})

	breaker.Execute(func() error { return errors.New("boom") })
	now = now.Add(2 * time.Second)
	if err := breaker.Execute(func() error { return errors.New("still down") }); err == nil {
		t.Fatal("expected probe failure")
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened breaker, got %v", err)
	}
}

func TestRateLimiter_EnforcesBurst(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter(100*time.Millisecond, 2)
	limiter.now = func() time.Time { return now }
	slept := 0
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("burst call %d: %v", i, err)
		}
	}
	if slept != 0 {
		t.Fatalf("burst must not sleep, slept %d times", slept)
	}
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("post-burst wait: %v", err)
	}
	if slept == 0 {
		t.Fatal("expected the third call to wait for a token")
	}
}

func TestRateLimiter_NilAndDisabled(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	disabled := NewRateLimiter(0, 0)
	if err := disabled.Wait(context.Background()); err != nil {
		t.Fatalf("disabled limiter: %v", err)
	}
}

type countingInventory struct {
	outcomes []saga.Outcome
	calls    int
}

func (c *countingInventory) Reserve(ctx context.Context, orderID string, items []saga.Item, idempotencyKey string) saga.Outcome {
	return c.next()
}

func (c *countingInventory) Release(ctx context.Context, reservationRef string) saga.Outcome {
	return c.next()
}

func (c *countingInventory) next() saga.Outcome {
	c.calls++
	if c.calls <= len(c.outcomes) {
		return c.outcomes[c.calls-1]
	}
	return saga.Success("res-1")
}

func TestReliableInventory_BreakerCountsSystemErrors(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Now:          func() time.Time { return now },
	})
	base := &countingInventory{outcomes: []saga.Outcome{
		saga.SystemError("down"),
		saga.SystemError("down"),
	}}
	wrapped := NewReliableInventory(base, nil, breaker)
	ctx := context.Background()

	wrapped.Reserve(ctx, "ord-1", nil, "key-1")
	wrapped.Reserve(ctx, "ord-1", nil, "key-1")

	out := wrapped.Reserve(ctx, "ord-1", nil, "key-1")
	if out.Status != saga.OutcomeSystemError || out.Cause != ErrCircuitOpen.Error() {
		t.Fatalf("expected circuit-open outcome, got %+v", out)
	}
	if base.calls != 2 {
		t.Fatalf("open breaker must not reach the base, got %d calls", base.calls)
	}
}

func TestReliableInventory_BusinessFailurePassesThrough(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		Now:          func() time.Time { return now },
	})
	base := &countingInventory{outcomes: []saga.Outcome{
		saga.Failure(ReasonOutOfStock),
		saga.Success("res-1"),
	}}
	wrapped := NewReliableInventory(base, nil, breaker)
	ctx := context.Background()

	out := wrapped.Reserve(ctx, "ord-1", nil, "key-1")
	if out.Status != saga.OutcomeBusinessFailure || out.Reason != ReasonOutOfStock {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	// A business failure is not a fault; the breaker stays closed.
	if out = wrapped.Reserve(ctx, "ord-1", nil, "key-2"); !out.OK() {
		t.Fatalf("expected breaker closed, got %+v", out)
	}
}

func TestReliablePayments_LimiterCancelledContext(t *testing.T) {
	limiter := NewRateLimiter(time.Hour, 1)
	wrapped := NewReliablePayments(NoopPayments{}, limiter, nil)
	ctx := context.Background()

	if out := wrapped.Charge(ctx, "cust-1", 10, "key-1"); !out.OK() {
		t.Fatalf("first charge: %+v", out)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	out := wrapped.Charge(cancelled, "cust-1", 10, "key-2")
	if out.Status != saga.OutcomeSystemError {
		t.Fatalf("expected system error on cancelled wait, got %+v", out)
	}
}

func TestLoadReliabilityConfigFromEnv(t *testing.T) {
	t.Setenv("COLLAB_BREAKER_MAX_FAILURES", "5")
	t.Setenv("COLLAB_BREAKER_RESET_TIMEOUT", "30s")
	t.Setenv("COLLAB_RATE_LIMIT_INTERVAL", "100ms")
	t.Setenv("COLLAB_RATE_LIMIT_BURST", "10")

	cfg, err := LoadReliabilityConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadReliabilityConfigFromEnv: %v", err)
	}
	if cfg.BreakerMaxFailures != 5 || cfg.BreakerResetTimeout != 30*time.Second ||
		cfg.RateLimitInterval != 100*time.Millisecond || cfg.RateLimitBurst != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("COLLAB_BREAKER_MAX_FAILURES", "")
	if _, err := LoadReliabilityConfigFromEnv(); err == nil {
		t.Fatal("expected error for missing COLLAB_BREAKER_MAX_FAILURES")
	}
}
