package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is injectable for tests; nil means a timer select on ctx.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// WithSleep returns a copy of the config using the given sleep func.
func (c RetryConfig) WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryConfig {
	c.sleep = fn
	return c
}

// transientPatterns is the central substring table for transience
// classification of errors that expose only a message. Structured
// sources (net.Error, gRPC status) are checked first in IsTransient.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"econnreset",
	"connection closed",
	"broken pipe",
	"network",
	"unavailable",
	"temporarily",
	"too many requests",
	"rate limit",
	"429",
	"503",
}

// IsTransient reports whether err looks like a transient infrastructure
// failure worth retrying. Permanent errors (validation, not-found,
// malformed input) must return false so they fail fast.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Retry runs op up to cfg.MaxAttempts times with exponential backoff
// (baseDelay * 2^(attempt-1)). Permanent errors abort immediately and
// there is no delay after the final attempt.
func Retry(ctx context.Context, log *logger.Logger, cfg RetryConfig, op func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, log, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func RetryValue[T any](ctx context.Context, log *logger.Logger, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	sleep := cfg.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.BaseDelay << (attempt - 1)
		if log != nil {
			log.Warn("transient failure, retrying",
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"delay_ms", delay.Milliseconds(),
				"error", err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
