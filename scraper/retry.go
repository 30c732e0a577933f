package scraper

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy runs an operation until it succeeds, fails with a non-retryable
// error, or exhausts its attempts.
type RetryPolicy struct {
	MaxAttempts int
	// FirstRunExtraAttempts is added to MaxAttempts for the first run after start.
	FirstRunExtraAttempts int
	Backoff               time.Duration
	BackoffMax            time.Duration
	IsRetryable           func(error) bool

	Logger  *slog.Logger
	Metrics *Metrics

	sleep func(context.Context, time.Duration) error
}

// Attempts returns the attempt budget for a run.
func (p RetryPolicy) Attempts(first bool) int {
	n := p.MaxAttempts
	if n <= 0 {
		n = 1
	}
	if first {
		n += p.FirstRunExtraAttempts
	}
	return n
}

// Do calls op until it succeeds or the budget is spent. It returns the number
// of attempts made and the last error, unchanged.
func (p RetryPolicy) Do(ctx context.Context, first bool, op func(ctx context.Context, attempt int) error) (int, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryable := p.IsRetryable
	if retryable == nil {
		retryable = isRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	budget := p.Attempts(first)
	var err error
	for attempt := 1; attempt <= budget; attempt++ {
		p.Metrics.IncAttempts()
		err = op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		logger.Warn("query attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("of", budget),
			slog.String("error_type", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		if attempt == budget || !retryable(err) || ctx.Err() != nil {
			return attempt, err
		}

		p.Metrics.IncRetries()
		if serr := sleep(ctx, p.backoff(attempt)); serr != nil {
			return attempt, err
		}
	}
	return budget, err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := p.BackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
