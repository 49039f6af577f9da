package upload

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier executes a callable under a bounded-attempt exponential backoff
// policy. After each failure:
//  1. If the error is ErrInterrupted, propagate immediately.
//  2. If the error is in the abort kinds (not IsRecoverable), propagate
//     immediately.
//  3. Otherwise sleep baseDelay*2^(attempt-1) and retry until the attempt
//     budget is exhausted.
//
// Backoff sleeps are cancellable: if the Interrupter fires during a sleep,
// the wait ends early and ErrInterrupted is raised.
type Retrier struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	Interrupter  Interrupter
	Logger       Logger
	Instrumenter *Instrumenter
}

// NewRetrier builds a Retrier from engine configuration.
func NewRetrier(cfg *Config, interrupter Interrupter, logger Logger) *Retrier {
	if interrupter == nil {
		interrupter = NeverInterrupt
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Retrier{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		Interrupter:  interrupter,
		Logger:       logger,
		Instrumenter: NewInstrumenter(nil, nil),
	}
}

// Do executes fn, retrying recoverable failures per the policy above.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if reason := r.Interrupter.Reason(); reason != "" {
		return &UploadError{Op: op, Err: ErrInterrupted}
	}

	policy := r.backoffPolicy()

	var lastErr error
	attempt := 0
	for {
		attempt++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if IsInterrupted(lastErr) {
			return lastErr
		}
		if !IsRecoverable(lastErr) {
			return lastErr
		}
		if attempt >= r.MaxAttempts {
			return lastErr
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return lastErr
		}

		r.Logger.Debug("retrying after recoverable error",
			"op", op, "attempt", attempt, "delay", delay, "error", lastErr)
		if r.Instrumenter != nil {
			r.Instrumenter.RecordRetry(op)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoffPolicy builds an exponential backoff with no jitter and no
// maximum elapsed time, matching spec.md's baseDelayMs*2^(attempt-1)
// formula exactly.
func (r *Retrier) backoffPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	// MaxInterval must stay effectively unbounded: backoff/v4's
	// incrementCurrentInterval clamps currentInterval to MaxInterval once
	// currentInterval >= MaxInterval/Multiplier, and that test is trivially
	// true when MaxInterval is 0, collapsing every delay after the first to
	// zero.
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for delay, cancellable by ctx.Done() or the Interrupter
// firing (polled on a short tick so long backoffs still notice promptly).
func (r *Retrier) sleep(ctx context.Context, delay time.Duration) error {
	const pollInterval = 25 * time.Millisecond

	timer := time.NewTimer(delay)
	defer timer.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(delay)
	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return &UploadError{Op: "retrier_sleep", Err: ErrInterrupted}
		case <-ticker.C:
			if reason := r.Interrupter.Reason(); reason != "" {
				return &UploadError{Op: "retrier_sleep", Err: ErrInterrupted}
			}
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}
