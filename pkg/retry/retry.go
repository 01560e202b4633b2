// Package retry wraps a single network or page operation with bounded
// retries and exponential backoff. It is failure-kind-agnostic: every error
// is retried up to the cap, permanent or not. One uniform code path beats a
// retryability oracle for a handful of wasted attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("retry: initial delay must be > 0, got %s", p.InitialDelay)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("retry: backoff multiplier must be >= 1, got %g", p.BackoffMultiplier)
	}
	return nil
}

// delay returns the sleep before retry i, i starting at 0 for the first
// retry: InitialDelay × BackoffMultiplier^i.
func (p Policy) delay(i int) time.Duration {
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(i)))
}

// Exhausted is returned once every attempt has failed. It carries the attempt
// count and the total backoff slept so the failure is diagnosable from the
// error alone.
type Exhausted struct {
	Label    string
	Attempts int
	Wait     time.Duration
	Err      error
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts (%s waited): %v", e.Label, e.Attempts, e.Wait, e.Err)
}

func (e *Exhausted) Unwrap() error { return e.Err }

// sleep is swapped out in tests to assert the exact backoff sequence.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds or the policy is exhausted. The fast path
// incurs no delay. On exhaustion the last error is propagated wrapped in
// *Exhausted. Sleeps are cut short by ctx cancellation, in which case the
// context error is returned as-is.
func Do[T any](ctx context.Context, p Policy, log *zap.SugaredLogger, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	var lastErr error
	var totalWait time.Duration
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		d := p.delay(attempt - 1)
		log.Warnw("operation failed, backing off",
			"op", label,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay", d,
			"error", err,
		)
		totalWait += d
		if serr := sleep(ctx, d); serr != nil {
			return zero, serr
		}
	}

	log.Errorw("operation exhausted retries",
		"op", label,
		"attempts", p.MaxAttempts,
		"total_wait", totalWait,
		"error", lastErr,
	)
	return zero, &Exhausted{Label: label, Attempts: p.MaxAttempts, Wait: totalWait, Err: lastErr}
}
