package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGuardRateLimitedTrialDoesNotWedgeBreaker(t *testing.T) {
	g := NewGuard(GuardConfig{MaxRequests: 1, Window: 10 * time.Minute, FailureThreshold: 1, ResetTimeout: time.Minute})
	clock := time.Now()
	g.limiter.now = func() time.Time { return clock }
	g.breaker.now = func() time.Time { return clock }

	upstream := errors.New("upstream down")
	if err := g.Do(context.Background(), func(ctx context.Context) error {
		return upstream
	}); err != upstream {
		t.Fatalf("failing call: %v", err)
	}
	if g.BreakerState() != BreakerOpen {
		t.Fatalf("state after failure: %v", g.BreakerState())
	}

	// Reset timeout has elapsed but the window is still full. The call
	// must bounce off the limiter with the trial slot untouched.
	clock = clock.Add(61 * time.Second)
	if err := g.Do(context.Background(), func(ctx context.Context) error {
		t.Fatalf("fn invoked while rate limited")
		return nil
	}); err != ErrRateLimited {
		t.Fatalf("want=%v got=%v", ErrRateLimited, err)
	}

	// Once the window drains the trial must still be available, run,
	// and close the breaker on success.
	clock = clock.Add(10 * time.Minute)
	calls := 0
	if err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("trial after window drained: %v", err)
	}
	if calls != 1 {
		t.Fatalf("trial never ran: calls=%d", calls)
	}
	if g.BreakerState() != BreakerClosed {
		t.Fatalf("state after trial success: %v", g.BreakerState())
	}
}
