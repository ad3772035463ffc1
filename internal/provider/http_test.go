package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableforge/fableforge/internal/fault"
)

func TestHTTPProvider_Invoke_Success(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"video_id": "v-123", "status": "queued"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{
		Name:    "runway",
		BaseURL: srv.URL,
		Auth:    APIKeyAuth("sk-test"),
	})

	result, err := p.Invoke(context.Background(), &Request{
		Operation: "video.generate",
		Payload:   map[string]any{"prompt": "a dragon"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/video.generate", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "a dragon", gotBody["prompt"])
	assert.Equal(t, "v-123", result["video_id"])
}

func TestHTTPProvider_Invoke_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL})

	_, err := p.Invoke(context.Background(), &Request{Operation: "video.generate"})
	require.Error(t, err)
	assert.True(t, fault.IsRetryable(err))
}

func TestHTTPProvider_Invoke_ClientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL})

	_, err := p.Invoke(context.Background(), &Request{Operation: "video.generate"})
	require.Error(t, err)
	assert.True(t, fault.IsValidation(err))
	assert.False(t, fault.IsRetryable(err))
}

func TestHTTPProvider_Invoke_ConnectionRefused(t *testing.T) {
	t.Parallel()

	p := NewHTTPProvider(HTTPProviderConfig{
		Name:    "runway",
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	})

	_, err := p.Invoke(context.Background(), &Request{Operation: "video.generate"})
	require.Error(t, err)
	assert.True(t, fault.IsRetryable(err))
}

func TestHTTPProvider_Invoke_MalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL})

	_, err := p.Invoke(context.Background(), &Request{Operation: "video.generate"})
	require.Error(t, err)
	assert.True(t, fault.IsValidation(err))
}

func TestHTTPProvider_Healthy(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL})

	require.NoError(t, p.Healthy(context.Background()))
	assert.Equal(t, "/health", gotPath)
}

func TestHTTPProvider_Healthy_CustomPath(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL, HealthPath: "/v1/ping"})

	require.NoError(t, p.Healthy(context.Background()))
	assert.Equal(t, "/v1/ping", gotPath)
}

func TestHTTPProvider_Healthy_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL})

	assert.Error(t, p.Healthy(context.Background()))
}

func TestHTTPProvider_Healthy_ClientErrorIsHealthy(t *testing.T) {
	t.Parallel()

	// A 4xx from the health endpoint still proves the service is up.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "runway", BaseURL: srv.URL})

	assert.NoError(t, p.Healthy(context.Background()))
}
