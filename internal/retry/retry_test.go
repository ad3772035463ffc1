package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/fault"
	"github.com/fableforge/fableforge/internal/observability"
)

func newTestExecutor(t *testing.T, maxAttempts int) *Executor {
	t.Helper()

	return NewExecutor(config.RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: config.Duration(time.Millisecond),
	}, observability.NopLogger())
}

func TestExecutor_RunSync_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 3)

	calls := 0
	err := e.RunSync(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_RunSync_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 3)

	calls := 0
	retries := 0
	opts := &Options{
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			retries++
			assert.True(t, fault.IsRetryable(err))
			assert.Positive(t, backoff)
		},
	}

	err := e.RunSync(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.Transient("op", errors.New("flaky"))
		}
		return nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestExecutor_RunSync_Exhaustion(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 3)

	calls := 0
	err := e.RunSync(context.Background(), "op", func(context.Context) error {
		calls++
		return fault.Transient("op", errors.New("always down"))
	}, nil)

	assert.Equal(t, 3, calls)
	require.True(t, fault.IsExhausted(err))

	var ee *fault.ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Attempts)
	assert.Contains(t, ee.Error(), "always down")
}

func TestExecutor_RunSync_NonRetryableAbortsImmediately(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 3)

	calls := 0
	err := e.RunSync(context.Background(), "op", func(context.Context) error {
		calls++
		return fault.NewValidation("op", "bad payload")
	}, nil)

	assert.Equal(t, 1, calls)
	assert.True(t, fault.IsValidation(err))
	assert.False(t, fault.IsExhausted(err))
}

func TestExecutor_RunSync_NoProviderAbortsImmediately(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 3)

	calls := 0
	err := e.RunSync(context.Background(), "op", func(context.Context) error {
		calls++
		return fault.NoProvider("sms.send", nil)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.True(t, fault.IsNoProvider(err))
}

func TestExecutor_RunSync_ContextCancelled(t *testing.T) {
	t.Parallel()

	e := NewExecutor(config.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: config.Duration(time.Second),
	}, observability.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())

	err := e.RunSync(ctx, "op", func(context.Context) error {
		cancel()
		return fault.Transient("op", errors.New("flaky"))
	}, nil)

	// Cancellation during backoff surfaces as a timeout, not exhaustion.
	assert.True(t, fault.IsTimeout(err))
}

func TestExecutor_RunSync_ClassifiesRawErrors(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 3)

	calls := 0
	err := e.RunSync(context.Background(), "op", func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	}, nil)

	// Raw deadline errors are classified transient and retried.
	assert.Equal(t, 3, calls)
	assert.True(t, fault.IsExhausted(err))
}

func TestNewExecutor_Defaults(t *testing.T) {
	t.Parallel()

	e := NewExecutor(config.RetryConfig{}, nil)

	assert.Equal(t, DefaultMaxAttempts, e.MaxAttempts())
	assert.Equal(t, DefaultInitialBackoff, e.initialBackoff)
	assert.Equal(t, DefaultJitterFactor, e.jitterFactor)
	assert.Equal(t, DefaultSyncDeadline, e.syncDeadline)
	assert.Equal(t, DefaultBackgroundDeadline, e.backgroundDeadline)
}

func TestNewExecutor_JitterCapped(t *testing.T) {
	t.Parallel()

	e := NewExecutor(config.RetryConfig{JitterFactor: 5.0}, nil)
	assert.Equal(t, MaxJitterFactor, e.jitterFactor)
}

func TestExecutor_BackoffGrowsExponentially(t *testing.T) {
	t.Parallel()

	e := NewExecutor(config.RetryConfig{
		InitialBackoff: config.Duration(100 * time.Millisecond),
		JitterFactor:   0.25,
	}, nil)

	first := e.backoffFor(1)
	second := e.backoffFor(2)
	third := e.backoffFor(3)

	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Less(t, first, 125*time.Millisecond)
	assert.GreaterOrEqual(t, second, 200*time.Millisecond)
	assert.Less(t, second, 250*time.Millisecond)
	assert.GreaterOrEqual(t, third, 400*time.Millisecond)
	assert.Less(t, third, 500*time.Millisecond)
}

func TestExecutor_RunBackground(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 2)

	var sawDeadline bool
	err := e.RunBackground(context.Background(), "op", func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}, nil)

	require.NoError(t, err)
	assert.True(t, sawDeadline)
}
