package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 10 * time.Second
)

// Policy decides which failures are retried, how often and how long to wait.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable classifies an error; nil means nothing is retried.
	Retryable func(error) bool
	// Hint may extend Delay for a given error, e.g. from a Retry-After header.
	Hint func(error) time.Duration
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RateLimitPolicy retries rate limited provider calls only.
func RateLimitPolicy(maxAttempts int, delay time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Retryable:   IsRateLimited,
		Hint:        retryAfter,
	}
}

// IsRateLimited reports whether err carries a rate limited ProviderError.
func IsRateLimited(err error) bool {
	var pe *domain.ProviderError
	return errors.As(err, &pe) && pe.Kind == domain.RateLimited
}

func retryAfter(err error) time.Duration {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// Retry runs fn until it succeeds, fails with a non-retryable error or
// p.MaxAttempts calls have been made. The last error is returned as is.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt >= attempts {
			return out, err
		}

		wait := p.Delay
		if p.Hint != nil {
			if h := p.Hint(err); h > wait {
				wait = h
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return out, fmt.Errorf("%w (retry aborted: %v)", err, serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
