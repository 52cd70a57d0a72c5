package resilience

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker open: dependency unavailable")
	ErrRateLimited = errors.New("rate limit exceeded for dependency")
)

// Guard composes the sliding-window limiter and the circuit breaker
// around one external dependency client. Internal cache and registry
// calls do not go through a Guard; they are not rate-limited third
// parties.
type Guard struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
}

type GuardConfig struct {
	MaxRequests      int
	Window           time.Duration
	FailureThreshold int
	ResetTimeout     time.Duration
}

func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{
		limiter: NewRateLimiter(cfg.MaxRequests, cfg.Window),
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout),
	}
}

// Do rejects immediately (without invoking fn) when the window is full
// or the breaker is open; both rejections are recoverable by waiting.
// The limiter is consulted first: a rate-limited call must never
// consume the breaker's half-open trial slot, since the trial only
// resolves when fn actually runs.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.limiter.CanMakeRequest() {
		return ErrRateLimited
	}
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	g.limiter.RecordRequest()

	err := fn(ctx)
	if err != nil {
		g.breaker.RecordFailure()
		return err
	}
	g.breaker.RecordSuccess()
	return nil
}

func (g *Guard) WaitTime() time.Duration { return g.limiter.WaitTime() }

func (g *Guard) BreakerState() BreakerState { return g.breaker.State() }
