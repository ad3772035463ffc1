package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableforge/fableforge/internal/fault"
	"github.com/fableforge/fableforge/internal/observability"
)

// fakeProvider is a scriptable Provider for registry tests.
type fakeProvider struct {
	name      string
	healthErr error
	invokeErr error
	result    map[string]any
	invokes   atomic.Int64
	probes    atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Invoke(_ context.Context, _ *Request) (map[string]any, error) {
	f.invokes.Add(1)
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any{"provider": f.name}, nil
}

func (f *fakeProvider) Healthy(_ context.Context) error {
	f.probes.Add(1)
	return f.healthErr
}

func register(r *Registry, f *fakeProvider, priority int, caps ...Capability) {
	r.Register(Descriptor{Name: f.name, Priority: priority, Capabilities: caps}, f, nil)
}

func TestRegistry_GetActive_PriorityOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	secondary := &fakeProvider{name: "paddle"}
	primary := &fakeProvider{name: "stripe"}
	register(r, secondary, 2, CapabilityPaymentCheckout)
	register(r, primary, 1, CapabilityPaymentCheckout)

	p, err := r.GetActive(context.Background(), CapabilityPaymentCheckout)
	require.NoError(t, err)
	assert.Equal(t, "stripe", p.Name())
}

func TestRegistry_GetActive_SkipsUnhealthy(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	primary := &fakeProvider{name: "stripe", healthErr: errors.New("down")}
	secondary := &fakeProvider{name: "paddle"}
	register(r, primary, 1, CapabilityPaymentCheckout)
	register(r, secondary, 2, CapabilityPaymentCheckout)

	p, err := r.GetActive(context.Background(), CapabilityPaymentCheckout)
	require.NoError(t, err)
	assert.Equal(t, "paddle", p.Name())
}

func TestRegistry_GetActive_NoneRegistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())

	_, err := r.GetActive(context.Background(), CapabilityVoiceClone)
	require.Error(t, err)
	assert.True(t, fault.IsNoProvider(err))
}

func TestRegistry_GetActive_AllUnhealthy(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	register(r, &fakeProvider{name: "a", healthErr: errors.New("down")}, 1, CapabilityVoiceClone)
	register(r, &fakeProvider{name: "b", healthErr: errors.New("also down")}, 2, CapabilityVoiceClone)

	_, err := r.GetActive(context.Background(), CapabilityVoiceClone)
	require.Error(t, err)

	var ne *fault.NoProviderError
	require.ErrorAs(t, err, &ne)
	assert.Len(t, ne.Reasons, 2)
	assert.Contains(t, ne.Reasons["a"], "health probe failed")
}

func TestRegistry_GetActive_HealthProbeCached(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	p := &fakeProvider{name: "stripe"}
	register(r, p, 1, CapabilityPaymentCheckout)

	for i := 0; i < 5; i++ {
		_, err := r.GetActive(context.Background(), CapabilityPaymentCheckout)
		require.NoError(t, err)
	}

	// The probe result is reused within its TTL.
	assert.Equal(t, int64(1), p.probes.Load())
}

func TestRegistry_SendWithFailover_FirstHealthyWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	down := &fakeProvider{name: "twilio", healthErr: errors.New("outage")}
	up := &fakeProvider{name: "vonage"}
	register(r, down, 1, CapabilitySMSSend)
	register(r, up, 2, CapabilitySMSSend)

	result, used, err := r.SendWithFailover(context.Background(), CapabilitySMSSend,
		&Request{Operation: "sms.send", Payload: map[string]any{"to": "+15550100"}})
	require.NoError(t, err)
	assert.Equal(t, "vonage", used)
	assert.Equal(t, "vonage", result["provider"])

	// The unhealthy provider was never invoked.
	assert.Zero(t, down.invokes.Load())
	assert.Equal(t, int64(1), up.invokes.Load())
}

func TestRegistry_SendWithFailover_FailureFallsThrough(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	flaky := &fakeProvider{name: "twilio", invokeErr: fault.Transient("sms.send", errors.New("503"))}
	up := &fakeProvider{name: "vonage"}
	register(r, flaky, 1, CapabilitySMSSend)
	register(r, up, 2, CapabilitySMSSend)

	_, used, err := r.SendWithFailover(context.Background(), CapabilitySMSSend,
		&Request{Operation: "sms.send"})
	require.NoError(t, err)
	assert.Equal(t, "vonage", used)
	assert.Equal(t, int64(1), flaky.invokes.Load())
}

func TestRegistry_SendWithFailover_AllFail(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	register(r, &fakeProvider{name: "twilio", invokeErr: errors.New("boom")}, 1, CapabilitySMSSend)
	register(r, &fakeProvider{name: "vonage", healthErr: errors.New("down")}, 2, CapabilitySMSSend)

	_, _, err := r.SendWithFailover(context.Background(), CapabilitySMSSend, &Request{Operation: "sms.send"})
	require.Error(t, err)

	var ne *fault.NoProviderError
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, ne.Reasons["twilio"], "boom")
	assert.Contains(t, ne.Reasons["vonage"], "health probe failed")
}

func TestRegistry_SendWithFailover_NoneRegistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())

	_, _, err := r.SendWithFailover(context.Background(), CapabilitySMSSend, &Request{Operation: "sms.send"})
	assert.True(t, fault.IsNoProvider(err))
}

func TestRegistry_BreakerTripsAndSkips(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	failing := &fakeProvider{name: "runway", invokeErr: errors.New("500")}
	register(r, failing, 1, CapabilityVideoGenerate)

	ctx := context.Background()

	// Enough consecutive failures to trip the breaker.
	for i := 0; i < breakerMinRequests; i++ {
		p, err := r.GetActive(ctx, CapabilityVideoGenerate)
		require.NoError(t, err)
		_, err = p.Invoke(ctx, &Request{Operation: "video.generate"})
		require.Error(t, err)
	}

	invokesBefore := failing.invokes.Load()

	_, err := r.GetActive(ctx, CapabilityVideoGenerate)
	require.Error(t, err)

	var ne *fault.NoProviderError
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, ne.Reasons["runway"], "circuit breaker open")

	// Open breaker short-circuits before the provider is touched.
	assert.Equal(t, invokesBefore, failing.invokes.Load())
}

func TestRegistry_ValidationDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	rejecting := &fakeProvider{name: "stripe", invokeErr: fault.NewValidation("payment.checkout", "card declined")}
	register(r, rejecting, 1, CapabilityPaymentCheckout)

	ctx := context.Background()
	for i := 0; i < breakerMinRequests*2; i++ {
		p, err := r.GetActive(ctx, CapabilityPaymentCheckout)
		require.NoError(t, err)
		_, err = p.Invoke(ctx, &Request{Operation: "payment.checkout"})
		require.Error(t, err)
	}

	// Validation failures never open the breaker.
	_, err := r.GetActive(ctx, CapabilityPaymentCheckout)
	assert.NoError(t, err)
}

func TestRegistry_Descriptors(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	register(r, &fakeProvider{name: "vonage"}, 2, CapabilitySMSSend)
	register(r, &fakeProvider{name: "twilio"}, 1, CapabilitySMSSend)

	descs := r.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "twilio", descs[0].Name)
	assert.Equal(t, "vonage", descs[1].Name)
}

func TestRegistry_RateLimiterApplied(t *testing.T) {
	t.Parallel()

	r := NewRegistry(observability.NopLogger())
	p := &fakeProvider{name: "elevenlabs"}
	r.Register(Descriptor{Name: "elevenlabs", Priority: 1, Capabilities: []Capability{CapabilityVoiceClone}},
		p, &RegisterOptions{RateLimit: 1, Burst: 1})

	ctx, cancel := context.WithCancel(context.Background())

	active, err := r.GetActive(ctx, CapabilityVoiceClone)
	require.NoError(t, err)

	// First call consumes the burst.
	_, err = active.Invoke(ctx, &Request{Operation: "voice.clone"})
	require.NoError(t, err)

	// Second call would block on the limiter; cancelling surfaces a timeout.
	cancel()
	_, err = active.Invoke(ctx, &Request{Operation: "voice.clone"})
	require.Error(t, err)
	assert.True(t, fault.IsTimeout(err))
	assert.Equal(t, int64(1), p.invokes.Load())
}

func TestDescriptor_Supports(t *testing.T) {
	t.Parallel()

	d := Descriptor{Name: "kling", Capabilities: []Capability{CapabilityVideoGenerate}}
	assert.True(t, d.Supports(CapabilityVideoGenerate))
	assert.False(t, d.Supports(CapabilitySMSSend))
}
