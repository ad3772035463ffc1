package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fableforge/fableforge/internal/fault"
	"github.com/fableforge/fableforge/internal/retry"
)

// defaultHTTPTimeout bounds a single HTTP call to a provider. The retry
// executor's overall deadline sits above this.
const defaultHTTPTimeout = 30 * time.Second

// AuthFunc decorates an outgoing request with authentication.
type AuthFunc func(r *http.Request) error

// APIKeyAuth authenticates with a static bearer API key.
func APIKeyAuth(apiKey string) AuthFunc {
	return func(r *http.Request) error {
		r.Header.Set("Authorization", "Bearer "+apiKey)
		return nil
	}
}

// SignedBearerAuth authenticates with a short-lived signed token minted per
// request.
func SignedBearerAuth(signer *TokenSigner) AuthFunc {
	return func(r *http.Request) error {
		token, err := signer.Bearer()
		if err != nil {
			return err
		}
		r.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// HTTPProvider is a generic JSON-over-HTTP adapter for one external service.
// The concrete wire payloads of any single vendor live behind this boundary;
// the rest of the system sees only Request/Response maps.
type HTTPProvider struct {
	name       string
	baseURL    string
	healthPath string
	auth       AuthFunc
	client     *http.Client
}

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	Name       string
	BaseURL    string
	HealthPath string
	Auth       AuthFunc
	Timeout    time.Duration
}

// NewHTTPProvider creates a JSON-over-HTTP provider adapter.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	return &HTTPProvider{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		healthPath: healthPath,
		auth:       cfg.Auth,
		client:     &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string { return p.name }

// Invoke POSTs the payload to the operation path and decodes the JSON
// response. Response status codes are classified into the shared taxonomy.
func (p *HTTPProvider) Invoke(ctx context.Context, req *Request) (map[string]any, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fault.WrapValidation(req.Operation, "encode request payload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/"+req.Operation, bytes.NewReader(body))
	if err != nil {
		return nil, fault.WrapValidation(req.Operation, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if p.auth != nil {
		if err := p.auth(httpReq); err != nil {
			return nil, fmt.Errorf("authenticate request: %w", err)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, retry.Classify(req.Operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := retry.ClassifyHTTPStatus(req.Operation, resp.StatusCode); err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fault.WrapValidation(req.Operation, "decode provider response", err)
	}

	return result, nil
}

// Healthy probes the provider's health endpoint.
func (p *HTTPProvider) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.healthPath, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
