// Package retry provides bounded retry with exponential backoff and an
// overall deadline around a single external call.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/fault"
	"github.com/fableforge/fableforge/internal/observability"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default total number of attempts.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the default delay before the first retry.
	// Subsequent delays double: 1s, 2s, 4s.
	DefaultInitialBackoff = 1 * time.Second

	// DefaultJitterFactor is the default jitter factor (25%).
	DefaultJitterFactor = 0.25

	// MaxJitterFactor is the maximum allowed jitter factor.
	MaxJitterFactor = 1.0

	// DefaultSyncDeadline bounds a request-synchronous invocation.
	DefaultSyncDeadline = 60 * time.Second

	// DefaultBackgroundDeadline bounds an invocation running in a detached
	// background job.
	DefaultBackgroundDeadline = 10 * time.Minute
)

// OnRetryFunc is called before each retry attempt.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc
}

// Executor runs functions with bounded retry and a deadline class.
type Executor struct {
	maxAttempts        int
	initialBackoff     time.Duration
	jitterFactor       float64
	syncDeadline       time.Duration
	backgroundDeadline time.Duration
	logger             observability.Logger
}

// NewExecutor creates an Executor from configuration. Zero config values
// fall back to defaults.
func NewExecutor(cfg config.RetryConfig, logger observability.Logger) *Executor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	e := &Executor{
		maxAttempts:        cfg.MaxAttempts,
		initialBackoff:     cfg.InitialBackoff.Duration(),
		jitterFactor:       cfg.JitterFactor,
		syncDeadline:       cfg.SyncDeadline.Duration(),
		backgroundDeadline: cfg.BackgroundDeadline.Duration(),
		logger:             logger,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.initialBackoff <= 0 {
		e.initialBackoff = DefaultInitialBackoff
	}
	if e.jitterFactor <= 0 {
		e.jitterFactor = DefaultJitterFactor
	}
	if e.jitterFactor > MaxJitterFactor {
		e.jitterFactor = MaxJitterFactor
	}
	if e.syncDeadline <= 0 {
		e.syncDeadline = DefaultSyncDeadline
	}
	if e.backgroundDeadline <= 0 {
		e.backgroundDeadline = DefaultBackgroundDeadline
	}
	return e
}

// MaxAttempts returns the total attempt budget.
func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// RunSync executes fn under the request-synchronous deadline.
func (e *Executor) RunSync(ctx context.Context, op string, fn func(context.Context) error, opts *Options) error {
	ctx, cancel := context.WithTimeout(ctx, e.syncDeadline)
	defer cancel()
	return e.run(ctx, op, fn, opts)
}

// RunBackground executes fn under the longer background-job deadline.
func (e *Executor) RunBackground(ctx context.Context, op string, fn func(context.Context) error, opts *Options) error {
	ctx, cancel := context.WithTimeout(ctx, e.backgroundDeadline)
	defer cancel()
	return e.run(ctx, op, fn, opts)
}

// run drives the attempt loop. Only retryable (transient) errors consume a
// retry attempt; any other error aborts immediately and is returned as-is.
// On exhaustion the returned error carries the attempt count and last cause.
func (e *Executor) run(ctx context.Context, op string, fn func(context.Context) error, opts *Options) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fault.Timeout(op, err)
		}

		lastErr = Classify(op, fn(ctx))
		if lastErr == nil {
			return nil
		}

		if !fault.IsRetryable(lastErr) {
			return lastErr
		}

		GetRetryMetrics().attemptsTotal.WithLabelValues(op).Inc()

		if attempt == e.maxAttempts {
			break
		}

		backoff := e.backoffFor(attempt)
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, backoff)
		}

		e.logger.Debug("retrying after transient failure",
			observability.String("operation", op),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", backoff),
			observability.Error(lastErr))

		select {
		case <-ctx.Done():
			return fault.Timeout(op, ctx.Err())
		case <-time.After(backoff):
		}
	}

	GetRetryMetrics().exhaustedTotal.WithLabelValues(op).Inc()
	return fault.Exhausted(op, e.maxAttempts, lastErr)
}

// backoffFor returns the jittered exponential backoff after the given
// attempt (1-based): base, 2*base, 4*base, ...
func (e *Executor) backoffFor(attempt int) time.Duration {
	backoff := float64(e.initialBackoff) * math.Pow(2, float64(attempt-1))

	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	jitter := backoff * e.jitterFactor * rand.Float64()
	return time.Duration(backoff + jitter)
}
