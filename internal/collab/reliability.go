package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"sagaflow/internal/saga"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calls after repeated failures.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

// NewCircuitBreaker constructs a circuit breaker with sane defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 1
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		now:        now,
		state:      circuitClosed,
	}
}

// Execute runs the given function while enforcing breaker state.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}

	now := c.now()

	c.mu.Lock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.resetAfter {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.state = circuitHalfOpen
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	if c.state == circuitHalfOpen {
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == circuitHalfOpen {
		c.halfOpenFlight = false
	}

	if err == nil {
		c.state = circuitClosed
		c.failures = 0
		return nil
	}

	if c.state == circuitHalfOpen {
		c.state = circuitOpen
		c.openedAt = now
		c.failures = 0
		return err
	}

	c.failures++
	if c.failures >= c.maxFails {
		c.state = circuitOpen
		c.openedAt = now
	}
	return err
}

// RateLimiter is a token-bucket limiter.
type RateLimiter struct {
	mu    sync.Mutex
	rate  time.Duration
	burst int
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	tokens int
	last   time.Time
}

// NewRateLimiter constructs a limiter that refills one token every rate.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	limiter := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		sleep: sleepWithContext,
	}
	limiter.tokens = burst
	limiter.last = limiter.now()
	return limiter
}

// Wait blocks until a token is available or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		if ctx == nil {
			return nil
		}
		return ctx.Err()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RateLimiter) refill(now time.Time) {
	if r.rate <= 0 {
		r.tokens = r.burst
		r.last = now
		return
	}
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	if add <= 0 {
		return
	}
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

// ReliableInventory wraps an InventoryReservoir with a rate limiter and
// circuit breaker. SystemError outcomes count as breaker failures; an
// open breaker surfaces as a SystemError outcome, which the durable
// bridge retries like any other fault. Retrying itself stays with the
// bridge.
type ReliableInventory struct {
	base    saga.InventoryReservoir
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewReliableInventory constructs a reliability-wrapped inventory reservoir.
func NewReliableInventory(base saga.InventoryReservoir, limiter *RateLimiter, breaker *CircuitBreaker) *ReliableInventory {
	return &ReliableInventory{base: base, limiter: limiter, breaker: breaker}
}

func (c *ReliableInventory) Reserve(ctx context.Context, orderID string, items []saga.Item, idempotencyKey string) saga.Outcome {
	return guard(ctx, c.limiter, c.breaker, func() saga.Outcome {
		return c.base.Reserve(ctx, orderID, items, idempotencyKey)
	})
}

func (c *ReliableInventory) Release(ctx context.Context, reservationRef string) saga.Outcome {
	return guard(ctx, c.limiter, c.breaker, func() saga.Outcome {
		return c.base.Release(ctx, reservationRef)
	})
}

// ReliablePayments wraps a PaymentProcessor with a rate limiter and
// circuit breaker.
type ReliablePayments struct {
	base    saga.PaymentProcessor
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewReliablePayments constructs a reliability-wrapped payment processor.
func NewReliablePayments(base saga.PaymentProcessor, limiter *RateLimiter, breaker *CircuitBreaker) *ReliablePayments {
	return &ReliablePayments{base: base, limiter: limiter, breaker: breaker}
}

func (c *ReliablePayments) Charge(ctx context.Context, customerID string, amount float64, idempotencyKey string) saga.Outcome {
	return guard(ctx, c.limiter, c.breaker, func() saga.Outcome {
		return c.base.Charge(ctx, customerID, amount, idempotencyKey)
	})
}

func (c *ReliablePayments) Refund(ctx context.Context, paymentRef string) saga.Outcome {
	return guard(ctx, c.limiter, c.breaker, func() saga.Outcome {
		return c.base.Refund(ctx, paymentRef)
	})
}

func guard(ctx context.Context, limiter *RateLimiter, breaker *CircuitBreaker, fn func() saga.Outcome) saga.Outcome {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return saga.SystemErrorFrom(err)
		}
	}
	if breaker == nil {
		return fn()
	}

	var out saga.Outcome
	err := breaker.Execute(func() error {
		out = fn()
		if out.Status == saga.OutcomeSystemError {
			return errors.New(out.Cause)
		}
		return nil
	})
	if errors.Is(err, ErrCircuitOpen) {
		return saga.SystemError(ErrCircuitOpen.Error())
	}
	return out
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
