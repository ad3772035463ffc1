package provider

import (
	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/observability"
)

// builtinSpec binds one well-known external service to its capabilities.
type builtinSpec struct {
	name         string
	capabilities []Capability
	signedBearer bool
	cfg          func(p *config.ProvidersConfig) config.ProviderConfig
}

// builtins lists every provider the service knows how to construct.
// Priority and credentials come from configuration; a provider without
// credentials is skipped entirely.
var builtins = []builtinSpec{
	{
		name:         "stripe",
		capabilities: []Capability{CapabilityPaymentCheckout},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.Stripe },
	},
	{
		name:         "paddle",
		capabilities: []Capability{CapabilityPaymentCheckout},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.Paddle },
	},
	{
		name:         "twilio",
		capabilities: []Capability{CapabilitySMSSend},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.Twilio },
	},
	{
		name:         "vonage",
		capabilities: []Capability{CapabilitySMSSend},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.Vonage },
	},
	{
		name:         "elevenlabs",
		capabilities: []Capability{CapabilityVoiceClone},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.ElevenLabs },
	},
	{
		name:         "playht",
		capabilities: []Capability{CapabilityVoiceClone},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.PlayHT },
	},
	{
		name:         "runway",
		capabilities: []Capability{CapabilityVideoGenerate},
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.Runway },
	},
	{
		name:         "kling",
		capabilities: []Capability{CapabilityVideoGenerate},
		signedBearer: true,
		cfg:          func(p *config.ProvidersConfig) config.ProviderConfig { return p.Kling },
	},
}

// BuildRegistry constructs a registry containing every configured built-in
// provider. Providers whose required credentials are absent are not
// registered at all.
func BuildRegistry(cfg *config.ProvidersConfig, logger observability.Logger) *Registry {
	registry := NewRegistry(logger)

	for _, spec := range builtins {
		pc := spec.cfg(cfg)
		if !pc.Enabled() {
			logger.Debug("provider disabled, credentials absent",
				observability.String("provider", spec.name))
			continue
		}

		var auth AuthFunc
		if spec.signedBearer && pc.APISecret != "" {
			auth = SignedBearerAuth(NewTokenSigner(pc.APIKey, pc.APISecret))
		} else {
			auth = APIKeyAuth(pc.APIKey)
		}

		impl := NewHTTPProvider(HTTPProviderConfig{
			Name:    spec.name,
			BaseURL: pc.BaseURL,
			Auth:    auth,
		})

		registry.Register(Descriptor{
			Name:         spec.name,
			Priority:     pc.Priority,
			Capabilities: spec.capabilities,
		}, impl, &RegisterOptions{
			RateLimit: pc.RateLimit,
			Burst:     pc.Burst,
		})
	}

	return registry
}
