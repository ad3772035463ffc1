package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fableforge/fableforge/internal/fault"
	"github.com/fableforge/fableforge/internal/observability"
)

// healthProbeTimeout bounds a single health probe.
const healthProbeTimeout = 2 * time.Second

// healthCacheTTL is how long a probe result is reused before re-probing.
const healthCacheTTL = 30 * time.Second

// breakerMinRequests is the request count before the failure ratio trips
// the breaker.
const breakerMinRequests = 5

// entry is a registered provider with its protective wrappers.
type entry struct {
	desc    Descriptor
	impl    Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	mu          sync.Mutex
	lastProbe   time.Time
	lastHealthy bool
	lastReason  string
}

// Registry holds registered providers keyed by capability.
type Registry struct {
	logger observability.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	byCap   map[Capability][]*entry
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]*entry),
		byCap:   make(map[Capability][]*entry),
	}
}

// RegisterOptions tunes the protective wrappers around a provider.
type RegisterOptions struct {
	// RateLimit is the client-side request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64

	// Burst is the rate limiter burst size. Defaults to 1 when RateLimit
	// is set.
	Burst int
}

// Register adds a provider under its descriptor. Registration happens once
// at startup; providers whose credentials are absent are simply never
// registered.
func (r *Registry) Register(desc Descriptor, impl Provider, opts *RegisterOptions) {
	e := &entry{
		desc: desc,
		impl: impl,
	}

	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     desc.Name,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Info("provider circuit breaker state change",
				observability.String("provider", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
			GetProviderMetrics().breakerTransitions.WithLabelValues(
				name, from.String(), to.String(),
			).Inc()
		},
		IsSuccessful: func(err error) bool {
			// Validation failures are the caller's problem, not the
			// provider's; they must not trip the breaker.
			return err == nil || fault.IsValidation(err)
		},
	})

	if opts != nil && opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[desc.Name] = e
	for _, c := range desc.Capabilities {
		r.byCap[c] = append(r.byCap[c], e)
		sort.SliceStable(r.byCap[c], func(i, j int) bool {
			return r.byCap[c][i].desc.Priority < r.byCap[c][j].desc.Priority
		})
	}

	r.logger.Info("provider registered",
		observability.String("provider", desc.Name),
		observability.Int("priority", desc.Priority))
}

// Descriptors returns the descriptors of all registered providers.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		descs = append(descs, e.desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// GetActive returns the preferred healthy provider for an authoritative
// capability. Health is re-checked lazily per selection, falling back to the
// next priority when the preferred provider is unhealthy.
func (r *Registry) GetActive(ctx context.Context, capability Capability) (Provider, error) {
	candidates := r.candidates(capability)
	if len(candidates) == 0 {
		return nil, fault.NoProvider(string(capability), nil)
	}

	reasons := make(map[string]string)
	for _, e := range candidates {
		if ok, reason := e.usable(ctx); !ok {
			reasons[e.desc.Name] = reason
			continue
		}
		return &guardedProvider{entry: e, capability: capability}, nil
	}

	return nil, fault.NoProvider(string(capability), reasons)
}

// SendWithFailover tries providers for a best-effort capability strictly in
// ascending priority order: skip unhealthy, attempt the send, return on
// first success. When every provider fails, the aggregate error lists each
// provider's failure reason.
func (r *Registry) SendWithFailover(ctx context.Context, capability Capability, req *Request) (map[string]any, string, error) {
	candidates := r.candidates(capability)
	if len(candidates) == 0 {
		return nil, "", fault.NoProvider(string(capability), nil)
	}

	reasons := make(map[string]string)
	for _, e := range candidates {
		if ok, reason := e.usable(ctx); !ok {
			reasons[e.desc.Name] = reason
			GetProviderMetrics().failoverSkipsTotal.WithLabelValues(
				e.desc.Name, string(capability),
			).Inc()
			continue
		}

		result, err := e.invoke(ctx, capability, req)
		if err == nil {
			return result, e.desc.Name, nil
		}

		reasons[e.desc.Name] = err.Error()
		r.logger.Warn("provider send failed, trying next",
			observability.String("provider", e.desc.Name),
			observability.String("capability", string(capability)),
			observability.Error(err))
	}

	return nil, "", fault.NoProvider(string(capability), reasons)
}

// candidates returns the priority-ordered entries for a capability.
func (r *Registry) candidates(capability Capability) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, len(r.byCap[capability]))
	copy(out, r.byCap[capability])
	return out
}

// usable reports whether the entry may serve a request right now, probing
// health when the cached probe has gone stale.
func (e *entry) usable(ctx context.Context) (bool, string) {
	if e.breaker.State() == gobreaker.StateOpen {
		return false, "circuit breaker open"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.lastProbe) < healthCacheTTL {
		if !e.lastHealthy {
			return false, e.lastReason
		}
		return true, ""
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	err := e.impl.Healthy(probeCtx)
	e.lastProbe = time.Now()
	e.lastHealthy = err == nil
	if err != nil {
		e.lastReason = "health probe failed: " + err.Error()
		GetProviderMetrics().healthGauge.WithLabelValues(e.desc.Name).Set(0)
		return false, e.lastReason
	}

	e.lastReason = ""
	GetProviderMetrics().healthGauge.WithLabelValues(e.desc.Name).Set(1)
	return true, ""
}

// invoke runs the provider call through the rate limiter and circuit
// breaker.
func (e *entry) invoke(ctx context.Context, capability Capability, req *Request) (map[string]any, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fault.Timeout(req.Operation, err)
		}
	}

	start := time.Now()
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.impl.Invoke(ctx, req)
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	GetProviderMetrics().invocationsTotal.WithLabelValues(
		e.desc.Name, string(capability), outcome,
	).Inc()
	GetProviderMetrics().invocationDuration.WithLabelValues(
		e.desc.Name, string(capability),
	).Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fault.Transient(req.Operation, err)
		}
		return nil, err
	}

	return result.(map[string]any), nil
}

// guardedProvider exposes a registry entry as a Provider whose Invoke goes
// through the entry's limiter and breaker.
type guardedProvider struct {
	entry      *entry
	capability Capability
}

func (g *guardedProvider) Name() string { return g.entry.desc.Name }

func (g *guardedProvider) Invoke(ctx context.Context, req *Request) (map[string]any, error) {
	return g.entry.invoke(ctx, g.capability, req)
}

func (g *guardedProvider) Healthy(ctx context.Context) error {
	return g.entry.impl.Healthy(ctx)
}
