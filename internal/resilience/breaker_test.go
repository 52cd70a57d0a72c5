package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("breaker rejected while closed")
		}
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state after 2 failures: %v", b.State())
	}
	b.Allow()
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after threshold failures: %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("open breaker admitted a call")
	}
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.Allow()
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	clock = clock.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatalf("trial call rejected after reset timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half open, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("second call admitted during pending trial")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after trial success, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatalf("closed breaker rejected a call")
	}
}

func TestBreakerReopensOnTrialFailure(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.Allow()
	b.RecordFailure()
	clock = clock.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatalf("trial rejected")
	}
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected reopen after trial failure, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("reopened breaker admitted a call immediately")
	}
}
