package core

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy retries a failed invocation a bounded number of times with a
// fixed delay between attempts. There is no exponential backoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	// (0 = no retry, 3 = up to four attempts)
	MaxRetries int

	// Countdown is the fixed delay before each retry
	Countdown time.Duration
}

// DefaultRetryPolicy returns three retries five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Countdown:  5 * time.Second,
	}
}

// NoRetry returns a retry policy with no retries
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Attempts returns the maximum number of invocations the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Do runs fn until it succeeds, returns a Terminal error, or the retry budget
// is exhausted. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	return p.run(ctx, "", NewNoOpLogger(), &NilMetrics{}, fn)
}

func (p RetryPolicy) run(
	ctx context.Context,
	task string,
	logger Logger,
	metrics Metrics,
	fn func(ctx context.Context) error,
) (int, error) {
	maxRetries := p.Attempts() - 1
	attempts := 0

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		err := fn(ctx)
		if err == nil {
			if attempts > 1 {
				logger.Debug("Task succeeded after retry",
					F("task", task),
					F("attempt", attempts))
			}
			return nil
		}
		if IsTerminal(err) || attempts > maxRetries {
			return err
		}

		logger.Warn("Task attempt failed, retrying",
			F("task", task),
			F("attempt", attempts),
			F("maxRetries", maxRetries),
			F("countdown", p.Countdown),
			F("error", err))
		metrics.RecordRetry(task, attempts)
		return retry.RetryableError(err)
	})
	return attempts, err
}

func (p RetryPolicy) backoff() retry.Backoff {
	var b retry.Backoff
	if p.Countdown > 0 {
		b = retry.NewConstant(p.Countdown)
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.WithMaxRetries(uint64(p.Attempts()-1), b)
}
