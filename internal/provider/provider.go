// Package provider holds competing backend implementations of external
// capabilities, ranked by priority, with health checks and failover.
package provider

import (
	"context"
)

// Capability identifies one externally provided operation family.
type Capability string

// Known capabilities.
const (
	// CapabilityPaymentCheckout issues checkout sessions. Authoritative:
	// exactly one provider is active at a time.
	CapabilityPaymentCheckout Capability = "payment.checkout"

	// CapabilitySMSSend delivers text messages. Best-effort: providers are
	// tried in priority order until one succeeds.
	CapabilitySMSSend Capability = "sms.send"

	// CapabilityVoiceClone creates a voice clone from recorded samples.
	CapabilityVoiceClone Capability = "voice.clone"

	// CapabilityVideoGenerate renders a story scene to video.
	CapabilityVideoGenerate Capability = "video.generate"
)

// Request is the raw payload handed to a provider call. It may contain
// fields irrelevant to cache identity, such as callback URLs.
type Request struct {
	Operation string
	Payload   map[string]any
}

// Provider is a single backend implementation of one or more capabilities.
type Provider interface {
	// Name returns the provider's unique name.
	Name() string

	// Invoke performs the external call and returns the decoded response.
	Invoke(ctx context.Context, req *Request) (map[string]any, error)

	// Healthy probes the provider and returns nil when it is usable.
	Healthy(ctx context.Context) error
}

// Descriptor describes a registered provider. Lower priority is preferred.
type Descriptor struct {
	Name         string
	Priority     int
	Capabilities []Capability
}

// Supports reports whether the descriptor covers the capability.
func (d Descriptor) Supports(capability Capability) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
