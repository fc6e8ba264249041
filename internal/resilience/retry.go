// Package resilience provides retry and circuit breaking for outbound portal
// fetches.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls retries with exponential backoff and jitter.
type RetryPolicy struct {
	// Attempts is the total number of tries including the first. Default 3.
	Attempts int
	// Backoff is the delay before the first retry. Default 500ms.
	Backoff time.Duration
	// MaxBackoff caps a single delay. Default 10s.
	MaxBackoff time.Duration
	// Jitter adds ±Jitter of the computed delay. Default 0.25.
	Jitter float64
	// Retryable overrides IsTransient when set.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns the policy used for portal page fetches.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Jitter:     0.25,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.Backoff) * math.Pow(2, float64(attempt))
	d = math.Min(d, float64(p.MaxBackoff))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. op names the operation in retry logs.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := range p.Attempts {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			break
		}

		zap.L().Debug("resilience: retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
