// Package copilot implements the GitHub Copilot provider adapter: a thin
// pass-through over its OpenAI-compatible chat endpoint, with the editor
// identification headers Copilot's backend requires and no request/response
// translation beyond what OpenAI shape already provides.
package copilot

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
	ProviderName = "copilot"

	// DefaultBaseURL is GitHub Copilot's completions backend.
	DefaultBaseURL = "https://api.githubcopilot.com"

	// editorVersion and editorPluginVersion identify the client to
	// Copilot's backend; requests without them are rejected.
	editorVersion       = "vscode/1.95.0"
	editorPluginVersion = "copilot-chat/0.23.0"
	copilotIntegrationID = "vscode-chat"
)

// Provider implements the GitHub Copilot API adapter.
type Provider struct {
	baseURL string
	models  []string
	client  *http.Client
}

// New creates a Copilot provider instance.
func New(cfg provider.Config) (provider.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Provider{
		baseURL: baseURL,
		models:  cfg.Models,
		client:  &http.Client{},
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

// SupportsModel checks if the provider supports the given model. Copilot
// re-exposes OpenAI model families (gpt-*, o1*, o3*) plus its own aliases,
// so an explicit list match is required rather than a prefix guess shared
// with other OpenAI-shaped backends.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// BuildRequest forwards the request body verbatim (it is already
// OpenAI-shaped) with Copilot's required editor identification headers and
// the OAuth-resolved bearer token.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, accessToken string) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Editor-Version", editorVersion)
	httpReq.Header.Set("Editor-Plugin-Version", editorPluginVersion)
	httpReq.Header.Set("Copilot-Integration-Id", copilotIntegrationID)
	httpReq.Header.Set("Openai-Intent", "conversation-panel")

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

// ParseStreamChunk parses a single OpenAI-shaped SSE chunk.
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

// MapError converts a Copilot error response (OpenAI-shaped) to a
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
