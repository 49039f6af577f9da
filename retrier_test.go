package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retrierConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = time.Millisecond
	return cfg
}

func TestRetrierSucceedsFirstAttempt(t *testing.T) {
	r := NewRetrier(retrierConfig(), NeverInterrupt, NewNopLogger())
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierRetriesRecoverableUntilBudgetExhausted(t *testing.T) {
	r := NewRetrier(retrierConfig(), NeverInterrupt, NewNopLogger())
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &UploadError{Op: "op", Err: ErrS3Transport}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierStopsImmediatelyOnNonRecoverable(t *testing.T) {
	r := NewRetrier(retrierConfig(), NeverInterrupt, NewNopLogger())
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &UploadError{Op: "op", Err: ErrS3Permanent}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierStopsImmediatelyOnInterrupted(t *testing.T) {
	r := NewRetrier(retrierConfig(), NeverInterrupt, NewNopLogger())
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &UploadError{Op: "op", Err: ErrInterrupted}
	})
	assert.True(t, IsInterrupted(err))
	assert.Equal(t, 1, calls)
}

func TestRetrierHonorsPreCheckInterrupter(t *testing.T) {
	interrupter := InterrupterFunc(func() string { return "shutdown" })
	r := NewRetrier(retrierConfig(), interrupter, NewNopLogger())
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.True(t, IsInterrupted(err))
	assert.Equal(t, 0, calls)
}

func TestRetrierSleepCancellableByInterrupterDuringBackoff(t *testing.T) {
	cfg := retrierConfig()
	cfg.BaseDelay = 500 * time.Millisecond
	cfg.MaxAttempts = 5

	var fired bool
	interrupter := InterrupterFunc(func() string {
		if fired {
			return "cancelled mid-backoff"
		}
		return ""
	})
	r := NewRetrier(cfg, interrupter, NewNopLogger())

	calls := 0
	start := time.Now()
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			fired = true
		}
		return &UploadError{Op: "op", Err: ErrS3Transport}
	})
	elapsed := time.Since(start)

	assert.True(t, IsInterrupted(err))
	assert.Equal(t, 1, calls)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRetrierRecordsRetryOnInstrumenter(t *testing.T) {
	r := NewRetrier(retrierConfig(), NeverInterrupt, NewNopLogger())
	r.Instrumenter = NewInstrumenter(nil, nil)

	calls := 0
	_ = r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &UploadError{Op: "op", Err: ErrS3Transport}
		}
		return nil
	})
	assert.Equal(t, 2, calls)
}

func TestRetrierBackoffDelaysGrowExponentially(t *testing.T) {
	cfg := retrierConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxAttempts = 3
	r := NewRetrier(cfg, NeverInterrupt, NewNopLogger())

	var gaps []time.Duration
	last := time.Now()
	_ = r.Do(context.Background(), "op", func(ctx context.Context) error {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		return &UploadError{Op: "op", Err: ErrS3Transport}
	})

	// gaps[0] is the time to the first attempt (negligible); the retry
	// delays are gaps[1] (~100ms) and gaps[2] (~200ms) - neither should
	// collapse to ~0, which is what leaving MaxInterval at 0 produces.
	require.Len(t, gaps, 3)
	assert.GreaterOrEqual(t, gaps[1], 90*time.Millisecond)
	assert.GreaterOrEqual(t, gaps[2], 180*time.Millisecond)
	assert.Greater(t, gaps[2], gaps[1])
}

func TestRetrierCancelledByContext(t *testing.T) {
	cfg := retrierConfig()
	cfg.BaseDelay = 200 * time.Millisecond
	cfg.MaxAttempts = 5
	r := NewRetrier(cfg, NeverInterrupt, NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return &UploadError{Op: "op", Err: ErrS3Transport}
	})
	assert.True(t, errors.Is(err, ErrInterrupted))
}
