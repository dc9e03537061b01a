// Package litellm implements the generic LiteLLM bridge adapter: strip the
// "litellm:" model prefix and forward the request body verbatim to a
// configured OpenAI-compatible base URL using a provided master key,
// passing the response (buffered or streamed) back unchanged.
package litellm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/provider"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "litellm"

	// ModelPrefix is stripped from the wire model name before forwarding,
	// since the LiteLLM proxy behind base_url expects its own bare model
	// name (which may itself alias another provider).
	ModelPrefix = "litellm:"
)

// Provider implements the generic LiteLLM bridge.
type Provider struct {
	baseURL   string
	masterKey string
	models    []string
	client    *http.Client
}

// New creates a LiteLLM bridge provider instance.
func New(cfg provider.Config) (provider.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("litellm: base_url is required")
	}
	return &Provider{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		masterKey: cfg.APIKey,
		models:    cfg.Models,
		client:    &http.Client{},
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// SupportedModels returns the list of supported models.
func (p *Provider) SupportedModels() []string {
	return p.models
}

// SupportsModel checks if the provider supports the given model.
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, ModelPrefix)
}

// BuildRequest strips the litellm: prefix from the model name and forwards
// the request body verbatim. accessToken overrides the configured master
// key when the caller resolved a per-request credential; otherwise the
// provider's own master key is used.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, accessToken string) (*http.Request, error) {
	forwarded := *req
	forwarded.Model = strings.TrimPrefix(req.Model, ModelPrefix)

	body, err := json.Marshal(forwarded)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	key := p.masterKey
	if accessToken != "" {
		key = accessToken
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	return httpReq, nil
}

// ParseResponse forwards the OpenAI-shaped response unchanged.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// ParseStreamChunk parses a single OpenAI-shaped SSE chunk verbatim.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}
	if bytes.HasPrefix(trimmed, []byte("data: ")) {
		trimmed = bytes.TrimPrefix(trimmed, []byte("data: "))
	}
	if bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}

	var chunk types.StreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &chunk, nil
}

// MapError converts a LiteLLM error response (OpenAI-shaped) to a
// ProviderError.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return llmerrors.FromStatusCode(ProviderName, "", statusCode, message)
}
