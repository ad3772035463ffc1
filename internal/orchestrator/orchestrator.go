// Package orchestrator composes the cache key builder, cache store, retry
// executor, and provider registry into a single cache-first invocation
// operation.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/fableforge/fableforge/internal/cache"
	"github.com/fableforge/fableforge/internal/cachekey"
	"github.com/fableforge/fableforge/internal/fault"
	"github.com/fableforge/fableforge/internal/observability"
	"github.com/fableforge/fableforge/internal/provider"
	"github.com/fableforge/fableforge/internal/retry"
)

// tracerName is the OpenTelemetry tracer name for orchestrated invocations.
const tracerName = "fableforge/orchestrator"

// Status is the final disposition of an invocation.
type Status string

// Invocation outcomes.
const (
	StatusCacheHit         Status = "cache_hit"
	StatusSuccess          Status = "success"
	StatusValidationFailed Status = "validation_failed"
	StatusExhausted        Status = "exhausted"
	StatusNoProvider       Status = "no_provider"
)

// Operation describes one cacheable external operation family.
type Operation struct {
	// Name identifies the operation family, e.g. "video.generate".
	Name string

	// Capability selects the provider pool.
	Capability provider.Capability

	// BestEffort routes the call through priority failover instead of the
	// single active provider.
	BestEffort bool

	// Background uses the long deadline class for detached jobs.
	Background bool

	// Validate checks the raw provider result against the operation's
	// expected shape. Invalid results are never cached.
	Validate func(result map[string]any) error

	// Persist durably records the result before the cache entry referencing
	// it is written, so a cache hit never points at an artifact that was
	// never recorded. Optional.
	Persist func(ctx context.Context, result map[string]any) error
}

// Request is a logical invocation request. NormalizedPayload is the
// canonical form used for fingerprinting; RawPayload is sent to the
// provider and may carry fields irrelevant to identity (callback URLs,
// request IDs). When NormalizedPayload is nil, RawPayload is fingerprinted.
type Request struct {
	Operation         string
	NormalizedPayload map[string]any
	RawPayload        map[string]any
}

func (r *Request) identity() map[string]any {
	if r.NormalizedPayload != nil {
		return r.NormalizedPayload
	}
	return r.RawPayload
}

// CacheOptions controls the cache entry written for an invocation.
type CacheOptions struct {
	// TTL for the entry. Zero uses the store default; cache.TTLNever
	// disables time-based expiry.
	TTL time.Duration

	// Tags associate the entry with invalidation groups.
	Tags []string

	// TimeBucket, when positive, folds a coarse time bucket into the key
	// so repeated polls within the window share an entry. Bounded
	// staleness is the intended behavior for polling operations.
	TimeBucket time.Duration
}

// Outcome is the result of an orchestrated invocation.
type Outcome struct {
	Status       Status
	Value        map[string]any
	Err          error
	Attempts     int
	ProviderUsed string
}

// Orchestrator executes operations cache-first with retry and failover.
type Orchestrator struct {
	namespace string
	keys      *cachekey.Builder
	store     cache.Store
	executor  *retry.Executor
	registry  *provider.Registry
	logger    observability.Logger
	stats     *statsRegistry
	flight    singleflight.Group
}

// New creates an Orchestrator.
func New(
	namespace string,
	keys *cachekey.Builder,
	store cache.Store,
	executor *retry.Executor,
	registry *provider.Registry,
	logger observability.Logger,
) *Orchestrator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		namespace: namespace,
		keys:      keys,
		store:     store,
		executor:  executor,
		registry:  registry,
		logger:    logger,
		stats:     newStatsRegistry(),
	}
}

// ExecuteWithCache runs the operation cache-first. A cache hit returns
// immediately without touching the provider layer. On a miss, concurrent
// identical-key callers share one in-flight computation; the winning call
// retries transient failures, validates the result, durably persists it,
// and only then writes the cache entry.
func (o *Orchestrator) ExecuteWithCache(ctx context.Context, op Operation, opts CacheOptions, req *Request) *Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.ExecuteWithCache",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation", op.Name),
			attribute.String("capability", string(op.Capability)),
		),
	)
	defer span.End()

	family := o.stats.family(op.Name)
	family.totalRequests.Add(1)
	GetOrchestratorMetrics().requestsTotal.WithLabelValues(op.Name).Inc()

	key, err := o.buildKey(op, opts, req)
	if err != nil {
		family.errors.Add(1)
		outcome := &Outcome{Status: StatusValidationFailed, Err: fault.WrapValidation(op.Name, "build cache key", err)}
		o.finish(span, op, outcome)
		return outcome
	}
	span.SetAttributes(attribute.String("cache.key", key))

	if value, err := o.store.Get(ctx, key); err == nil {
		var decoded map[string]any
		if err := json.Unmarshal(value, &decoded); err == nil {
			family.cacheHits.Add(1)
			GetOrchestratorMetrics().outcomesTotal.WithLabelValues(op.Name, string(StatusCacheHit)).Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &Outcome{Status: StatusCacheHit, Value: decoded}
		}
		// An undecodable entry counts as a miss and is overwritten below.
		o.logger.Warn("dropping undecodable cache entry",
			observability.String("key", key))
	}

	family.cacheMisses.Add(1)
	span.SetAttributes(attribute.Bool("cache.hit", false))
	span.AddEvent("calling")

	result, err, _ := o.flight.Do(key, func() (any, error) {
		return o.computeAndCache(ctx, op, opts, req, key, family), nil
	})
	if err != nil {
		// The compute function never returns an error through singleflight.
		family.errors.Add(1)
		return &Outcome{Status: StatusExhausted, Err: err}
	}

	outcome := result.(*Outcome)
	o.finish(span, op, outcome)
	return outcome
}

// buildKey fingerprints the request's canonical payload.
func (o *Orchestrator) buildKey(op Operation, opts CacheOptions, req *Request) (string, error) {
	if opts.TimeBucket > 0 {
		return o.keys.BuildBucketed(o.namespace, op.Name, req.identity(), opts.TimeBucket)
	}
	return o.keys.Build(o.namespace, op.Name, req.identity())
}

// computeAndCache performs the provider call and, on a valid result, writes
// the durable record and then the cache entry.
func (o *Orchestrator) computeAndCache(
	ctx context.Context,
	op Operation,
	opts CacheOptions,
	req *Request,
	key string,
	family *familyStats,
) *Outcome {
	outcome := o.invoke(ctx, op, req, family)
	if outcome.Status != StatusSuccess {
		return outcome
	}

	if op.Validate != nil {
		if err := op.Validate(outcome.Value); err != nil {
			family.errors.Add(1)
			return &Outcome{
				Status:   StatusValidationFailed,
				Err:      fault.WrapValidation(op.Name, "provider response shape", err),
				Attempts: outcome.Attempts,
			}
		}
	}

	// Durable persistence happens before the cache entry referencing it is
	// written.
	if op.Persist != nil {
		if err := op.Persist(ctx, outcome.Value); err != nil {
			family.errors.Add(1)
			return &Outcome{
				Status:   StatusValidationFailed,
				Err:      fault.WrapValidation(op.Name, "persist durable record", err),
				Attempts: outcome.Attempts,
			}
		}
	}

	encoded, err := json.Marshal(outcome.Value)
	if err != nil {
		family.errors.Add(1)
		o.logger.Error("failed to encode result for caching",
			observability.String("operation", op.Name),
			observability.Error(err))
		return outcome
	}

	// A cache write is an optimization, not a correctness requirement: on
	// failure the fresh value is still returned.
	if err := o.store.Set(ctx, key, encoded, opts.TTL, opts.Tags...); err != nil {
		family.errors.Add(1)
		GetOrchestratorMetrics().cacheWriteErrorsTotal.WithLabelValues(op.Name).Inc()
		o.logger.Warn("cache write failed",
			observability.String("operation", op.Name),
			observability.Error(&fault.CacheWriteError{Key: key, Err: err}))
	}

	return outcome
}

// invoke runs the provider call under the retry executor, routing through
// failover for best-effort operations.
func (o *Orchestrator) invoke(ctx context.Context, op Operation, req *Request, family *familyStats) *Outcome {
	attempts := 0
	providerUsed := ""
	var result map[string]any

	call := func(ctx context.Context) error {
		attempts++
		preq := &provider.Request{Operation: req.Operation, Payload: req.RawPayload}

		if op.BestEffort {
			value, used, err := o.registry.SendWithFailover(ctx, op.Capability, preq)
			if err != nil {
				return err
			}
			providerUsed = used
			result = value
			return nil
		}

		p, err := o.registry.GetActive(ctx, op.Capability)
		if err != nil {
			return err
		}
		value, err := p.Invoke(ctx, preq)
		if err != nil {
			return err
		}
		providerUsed = p.Name()
		result = value
		return nil
	}

	opts := &retry.Options{
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			family.retries.Add(1)
			if fault.IsTimeout(err) {
				family.timeouts.Add(1)
			}
		},
	}

	run := o.executor.RunSync
	if op.Background {
		run = o.executor.RunBackground
	}

	if err := run(ctx, op.Name, call, opts); err != nil {
		family.errors.Add(1)
		if fault.IsTimeout(err) {
			family.timeouts.Add(1)
		}

		status := StatusExhausted
		switch {
		case fault.IsNoProvider(err):
			status = StatusNoProvider
		case fault.IsValidation(err):
			status = StatusValidationFailed
		}
		return &Outcome{Status: status, Err: err, Attempts: attempts, ProviderUsed: providerUsed}
	}

	return &Outcome{
		Status:       StatusSuccess,
		Value:        result,
		Attempts:     attempts,
		ProviderUsed: providerUsed,
	}
}

func (o *Orchestrator) finish(span trace.Span, op Operation, outcome *Outcome) {
	span.SetAttributes(
		attribute.String("outcome", string(outcome.Status)),
		attribute.Int("attempts", outcome.Attempts),
	)
	if outcome.ProviderUsed != "" {
		span.SetAttributes(attribute.String("provider", outcome.ProviderUsed))
	}
	GetOrchestratorMetrics().outcomesTotal.WithLabelValues(op.Name, string(outcome.Status)).Inc()
}

// InvalidateTag removes every cache entry carrying the tag.
func (o *Orchestrator) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return o.store.InvalidateByTag(ctx, tag)
}
