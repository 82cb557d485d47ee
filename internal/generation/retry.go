package generation

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry policy defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second

	jitterPercent = 20
)

// RetryPolicy bounds how often a failed provider call is attempted.
// MaxAttempts counts every call, so 3 means one call and two retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	// An explicit cap below the base delay, or a base delay above the default
	// cap, degrades to a constant backoff.
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	b = retry.WithJitterPercent(jitterPercent, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Do calls fn until it succeeds, returns an error that IsRetryable rejects,
// or the attempt budget is spent. Attempts are numbered from 1. It returns the
// number of attempts made and the last error. When ctx ends while waiting
// between attempts the context error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.normalized()

	attempt := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return attempt, err
}
