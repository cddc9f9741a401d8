// Package retry is the single place retry decisions are made. It classifies
// failures from navigation and extraction into transient and fatal, retries
// transient ones with exponential backoff, and keeps an append-only attempt
// log per task.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"harvest/internal/browser"
	"harvest/internal/extract"
	"harvest/internal/logging"
	"harvest/internal/navigate"
	"harvest/internal/task"
)

// Class partitions failures by whether a retry can help.
type Class int

const (
	// Transient failures may succeed on retry: timeouts, network errors,
	// dead sessions.
	Transient Class = iota
	// Fatal failures cannot: bad instructions, missing required fields,
	// permission errors from the page.
	Fatal
)

// Classify maps a failure onto the retry taxonomy. Unknown errors are
// treated as transient so a flaky driver quirk gets its retries.
func Classify(err error) Class {
	switch {
	case errors.Is(err, task.ErrInvalidInstructions),
		errors.Is(err, extract.ErrMissingRequiredField),
		errors.Is(err, navigate.ErrPermissionDenied),
		errors.Is(err, browser.ErrSessionStart):
		return Fatal
	default:
		return Transient
	}
}

// RetriesExhaustedError is the terminal record of repeated transient
// failure: the attempt budget ran out without a success.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// Attempt is one try of a task. The attempt sequence per task is
// append-only and strictly ordered.
type Attempt struct {
	Number   int
	Start    time.Time
	Duration time.Duration
	Err      error // nil on success
}

// Controller executes a task's attempt function under the retry policy.
// Delay before attempt n+1 is BaseDelay doubled per retry, capped at
// MaxDelay.
type Controller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error // seam for tests
}

// New returns a Controller with the given budget.
func New(maxAttempts int, baseDelay, maxDelay time.Duration) *Controller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Controller{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		logger:      logging.New("retry"),
		sleep:       sleepCtx,
	}
}

// Delay returns the backoff before attempt number n+1 (n >= 1).
func (c *Controller) Delay(n int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Execute runs do until it succeeds, fails fatally, the attempt budget is
// exhausted, or ctx is done. It returns the full attempt log alongside the
// terminal error, if any. No two attempts of the same task ever overlap.
func (c *Controller) Execute(ctx context.Context, name string, do func(ctx context.Context, attempt int) error) ([]Attempt, error) {
	var attempts []Attempt
	var lastErr error

	for n := 1; n <= c.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			break
		}

		start := time.Now()
		err := do(ctx, n)
		attempts = append(attempts, Attempt{
			Number:   n,
			Start:    start,
			Duration: time.Since(start),
			Err:      err,
		})
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if Classify(err) == Fatal {
			c.logger.Debug("fatal failure, not retrying", "task", name, "attempt", n, "error", err)
			return attempts, err
		}
		if n == c.MaxAttempts {
			break
		}

		delay := c.Delay(n)
		c.logger.Debug("transient failure, backing off",
			"task", name, "attempt", n, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return attempts, &RetriesExhaustedError{Attempts: len(attempts), Last: lastErr}
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
