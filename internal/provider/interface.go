// Package provider defines the adapter contract every upstream LLM vendor
// implements: advertise supported models, translate the shared IR into a
// vendor HTTP request, translate the vendor response back, and classify
// vendor errors into the shared ProviderError taxonomy.
package provider

import (
	"context"
	"net/http"

	"github.com/gaud-proxy/gaud/pkg/types"
)

// Provider is the capability set every adapter (claude, gemini, copilot,
// kiro, litellm) implements.
type Provider interface {
	// Name returns the provider identifier (e.g. "claude", "kiro").
	Name() string

	// SupportedModels returns the list of models this provider advertises.
	SupportedModels() []string

	// SupportsModel reports whether the provider can serve the given model.
	SupportsModel(model string) bool

	// BuildRequest transforms the shared IR into a vendor-specific HTTP
	// request, attaching the resolved access token.
	BuildRequest(ctx context.Context, req *types.ChatRequest, accessToken string) (*http.Request, error)

	// ParseResponse transforms a buffered vendor response into the shared IR.
	ParseResponse(resp *http.Response) (*types.ChatResponse, error)

	// ParseStreamChunk parses one line of a vendor SSE/stream payload.
	// Returns nil, nil for keep-alive or non-content events.
	ParseStreamChunk(data []byte) (*types.StreamChunk, error)

	// MapError converts a vendor HTTP error body into a ProviderError.
	MapError(statusCode int, body []byte) error
}

// StreamHandler iterates a provider's streaming response.
type StreamHandler interface {
	Next() (*types.StreamChunk, error)
	Close() error
}

// Deployment is one routable (provider, model) pairing.
type Deployment struct {
	ID            string            `json:"id"`
	ProviderName  string            `json:"provider_name"`
	ModelName     string            `json:"model_name"`
	ModelAlias    string            `json:"model_alias,omitempty"`
	BaseURL       string            `json:"base_url"`
	MaxConcurrent int               `json:"max_concurrent"`
	TimeoutSec    int               `json:"timeout_seconds"`
	Priority      int               `json:"priority"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Factory creates a Provider instance from its configuration.
type Factory func(cfg Config) (Provider, error)

// Config is the provider-specific configuration consumed at registry setup.
type Config struct {
	Name                string
	Type                string
	APIKey              string
	BaseURL             string
	AllowPrivateBaseURL bool
	Models              []string
	MaxConcurrent       int
	TimeoutSec          int
	Headers             map[string]string
}
