package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter shared by all in-flight scans
// that talk to one external dependency.
type RateLimiter struct {
	mu         sync.Mutex
	maxReqs    int
	window     time.Duration
	timestamps []time.Time
	now        func() time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxReqs: maxRequests,
		window:  window,
		now:     time.Now,
	}
}

func (l *RateLimiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.now())
	return len(l.timestamps) < l.maxReqs
}

func (l *RateLimiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purge(now)
	l.timestamps = append(l.timestamps, now)
}

// WaitTime reports how long until the oldest recorded request exits the
// window; zero when a request could be made right now.
func (l *RateLimiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purge(now)
	if len(l.timestamps) < l.maxReqs {
		return 0
	}
	wait := l.timestamps[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// caller holds l.mu
func (l *RateLimiter) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.timestamps) && !l.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[idx:]...)
	}
}
