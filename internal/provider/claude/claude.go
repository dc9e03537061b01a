// Package claude implements the Anthropic Claude provider adapter: request
// and response transformation between the shared IR and Anthropic's
// Messages API, including extended-thinking signature preservation across
// multi-turn conversations.
package claude

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"

	"github.com/gaud-proxy/gaud/internal/provider"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "claude"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the default Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is used when a request specifies none.
	DefaultMaxTokens = 8192

	// thinkingSignatureTTL bounds how long a thinking-block signature stays
	// eligible for replay before the upstream would reject it as stale.
	thinkingSignatureTTL = 2 * time.Hour

	// thinkingSignatureCapacity is not enforced: go-cache evicts on expiry
	// only, so the signature cache holds every signature seen within
	// thinkingSignatureTTL, however many there are.
	thinkingSignatureCapacity = 1024
)

// Provider implements the Anthropic Claude API adapter.
type Provider struct {
	baseURL    string
	apiVersion string
	models     []string
	client     *http.Client

	// thinkingSigs maps a rendered thinking block's text to the signature
	// Anthropic attached to it, so replaying that assistant turn in a later
	// request can restore the signature instead of dropping the block.
	thinkingSigs *gocache.Cache
}

// New creates a Claude provider instance.
func New(cfg provider.Config) (provider.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Provider{
		baseURL:      baseURL,
		apiVersion:   DefaultAPIVersion,
		models:       cfg.Models,
		client:       &http.Client{},
		thinkingSigs: gocache.New(thinkingSignatureTTL, thinkingSignatureTTL/2),
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
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "claude-")
}

// anthropicRequest represents the Anthropic Messages API request format.
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Metadata      *metadata          `json:"metadata,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	ToolChoice    *toolChoice        `json:"tool_choice,omitempty"`
	Thinking      *thinkingConfig    `json:"thinking,omitempty"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentBlock
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type metadata struct {
	UserID string `json:"user_id,omitempty"`
}

type anthropicTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema inputSchema `json:"input_schema"`
}

type inputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

type toolChoice struct {
	Type                   string `json:"type"` // auto, any, tool, none
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// anthropicResponse represents the Anthropic Messages API response format.
type anthropicResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []contentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// BuildRequest creates an HTTP request for the Anthropic Messages API.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, accessToken string) (*http.Request, error) {
	anthropicReq, err := p.transformRequest(req)
	if err != nil {
		return nil, fmt.Errorf("transform request: %w", err)
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", accessToken)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	return httpReq, nil
}

func (p *Provider) transformRequest(req *types.ChatRequest) (*anthropicRequest, error) {
	anthropicReq := &anthropicRequest{
		Model:     req.Model,
		MaxTokens: DefaultMaxTokens,
		Stream:    req.Stream,
	}

	if req.MaxTokens > 0 {
		anthropicReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		anthropicReq.Temperature = req.Temperature
	}
	if req.TopP != nil {
		anthropicReq.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		anthropicReq.StopSequences = req.Stop
	}
	if req.User != "" {
		anthropicReq.Metadata = &metadata{UserID: req.User}
	}

	messages, systemPrompt, err := p.transformMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	anthropicReq.Messages = messages
	if systemPrompt != "" {
		anthropicReq.System = systemPrompt
	}

	if len(req.Tools) > 0 {
		anthropicReq.Tools = p.transformTools(req.Tools)
	}

	if len(req.ToolChoice) > 0 {
		tc, err := p.transformToolChoice(req.ToolChoice)
		if err == nil && tc != nil {
			anthropicReq.ToolChoice = tc
		}
	}

	return anthropicReq, nil
}

func (p *Provider) transformMessages(messages []types.ChatMessage) ([]anthropicMessage, string, error) {
	var result []anthropicMessage
	var systemPrompt string

	for _, msg := range messages {
		role := msg.Role

		if role == "system" {
			var content string
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				var contentArr []map[string]any
				if err := json.Unmarshal(msg.Content, &contentArr); err == nil {
					for _, c := range contentArr {
						if text, ok := c["text"].(string); ok {
							systemPrompt += text
						}
					}
				}
			} else {
				systemPrompt = content
			}
			continue
		}

		if role == "assistant" {
			blocks := p.transformAssistantBlocks(msg)
			if blocks != nil {
				result = append(result, anthropicMessage{Role: "assistant", Content: blocks})
				continue
			}
		}

		if role == "tool" {
			var content string
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				content = string(msg.Content)
			}
			result = append(result, anthropicMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   content,
				}},
			})
			continue
		}

		var content string
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			var contentArr []map[string]any
			if err := json.Unmarshal(msg.Content, &contentArr); err != nil {
				return nil, "", fmt.Errorf("invalid message content format")
			}
			var blocks []contentBlock
			for _, c := range contentArr {
				if c["type"] == "text" {
					if text, ok := c["text"].(string); ok {
						blocks = append(blocks, contentBlock{Type: "text", Text: text})
					}
				}
			}
			result = append(result, anthropicMessage{Role: role, Content: blocks})
		} else {
			result = append(result, anthropicMessage{Role: role, Content: content})
		}
	}

	return result, systemPrompt, nil
}

// transformAssistantBlocks rebuilds an assistant turn's content blocks,
// restoring a thinking block's signature from the cache when the same
// thinking text was previously emitted by this process. Returns nil if the
// message has no thinking or tool-call content worth block-encoding.
func (p *Provider) transformAssistantBlocks(msg types.ChatMessage) []contentBlock {
	var blocks []contentBlock

	if msg.Thinking != "" {
		block := contentBlock{Type: "thinking", Thinking: msg.Thinking}
		if sig, ok := p.thinkingSigs.Get(msg.Thinking); ok {
			block.Signature = sig.(string)
		}
		blocks = append(blocks, block)
	}

	var text string
	_ = json.Unmarshal(msg.Content, &text)
	if text != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: text})
	}

	for _, tc := range msg.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = tc.Function.Arguments
		}
		blocks = append(blocks, contentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	if len(blocks) == 0 {
		return nil
	}
	return blocks
}

func (p *Provider) transformTools(tools []types.Tool) []anthropicTool {
	result := make([]anthropicTool, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}

		var params map[string]any
		if len(tool.Function.Parameters) > 0 {
			if err := json.Unmarshal(tool.Function.Parameters, &params); err != nil {
				params = make(map[string]any)
			}
		}

		schema := inputSchema{Type: "object", Properties: make(map[string]any)}
		if props, ok := params["properties"].(map[string]any); ok {
			schema.Properties = props
		}
		if required, ok := params["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		result = append(result, anthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}
	return result
}

func (p *Provider) transformToolChoice(raw json.RawMessage) (*toolChoice, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		switch str {
		case "auto":
			return &toolChoice{Type: "auto"}, nil
		case "required":
			return &toolChoice{Type: "any"}, nil
		case "none":
			return &toolChoice{Type: "none"}, nil
		}
		return nil, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	if fn, ok := obj["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return &toolChoice{Type: "tool", Name: name}, nil
		}
	}

	return nil, nil
}

// ParseResponse transforms a buffered Anthropic response into the shared IR.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return p.transformResponse(&anthropicResp), nil
}

func (p *Provider) transformResponse(resp *anthropicResponse) *types.ChatResponse {
	var textContent, thinking string
	var toolCalls []types.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "thinking":
			thinking += block.Thinking
			if block.Signature != "" {
				p.thinkingSigs.Set(block.Thinking, block.Signature, gocache.DefaultExpiration)
			}
		case "tool_use":
			inputJSON, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(inputJSON),
				},
			})
		}
	}

	finishReason := mapStopReason(resp.StopReason)

	message := types.ChatMessage{
		Role:    "assistant",
		Content: json.RawMessage(fmt.Sprintf("%q", textContent)),
	}
	if len(toolCalls) > 0 {
		message.ToolCalls = toolCalls
	}
	if thinking != "" {
		message.Thinking = thinking
	}

	return &types.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: 0,
		Model:   resp.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: &types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CachedTokens:     resp.Usage.CacheReadInputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// ParseStreamChunk parses a single SSE data line from Anthropic's Messages
// streaming API, handling the content_block_start/delta sequence so thinking
// text and tool_use blocks survive the stream. Streamed thinking signatures
// are dropped and are not added to the signature cache.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if bytes.HasPrefix(trimmed, []byte("event:")) {
		return nil, nil
	}

	if bytes.HasPrefix(trimmed, []byte("data: ")) {
		trimmed = bytes.TrimPrefix(trimmed, []byte("data: "))
	}

	if bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}

	var event map[string]any
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, nil
	}

	eventType, _ := event["type"].(string)

	switch eventType {
	case "message_start":
		msg, ok := event["message"].(map[string]any)
		if !ok {
			return nil, nil
		}
		id, _ := msg["id"].(string)
		model, _ := msg["model"].(string)
		return &types.StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []types.StreamChoice{{Index: 0, Delta: types.StreamDelta{Role: "assistant"}}},
		}, nil

	case "content_block_start":
		block, ok := event["content_block"].(map[string]any)
		if !ok {
			return nil, nil
		}
		if block["type"] == "tool_use" {
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			return &types.StreamChunk{
				Object: "chat.completion.chunk",
				Choices: []types.StreamChoice{{
					Index: 0,
					Delta: types.StreamDelta{
						ToolCalls: []types.ToolCall{{
							ID:       id,
							Type:     "function",
							Function: types.ToolCallFunction{Name: name},
						}},
					},
				}},
			}, nil
		}
		return nil, nil

	case "content_block_delta":
		delta, ok := event["delta"].(map[string]any)
		if !ok {
			return nil, nil
		}
		switch delta["type"] {
		case "text_delta":
			text, _ := delta["text"].(string)
			return &types.StreamChunk{
				Object:  "chat.completion.chunk",
				Choices: []types.StreamChoice{{Index: 0, Delta: types.StreamDelta{Content: text}}},
			}, nil
		case "thinking_delta":
			text, _ := delta["thinking"].(string)
			return &types.StreamChunk{
				Object:  "chat.completion.chunk",
				Choices: []types.StreamChoice{{Index: 0, Delta: types.StreamDelta{Thinking: text}}},
			}, nil
		case "signature_delta":
			// Signature arrives after the thinking text. It is not forwarded
			// and not cached, so a streamed thinking block cannot have its
			// signature restored on a later turn.
			return nil, nil
		case "input_json_delta":
			partial, _ := delta["partial_json"].(string)
			return &types.StreamChunk{
				Object: "chat.completion.chunk",
				Choices: []types.StreamChoice{{
					Index: 0,
					Delta: types.StreamDelta{
						ToolCalls: []types.ToolCall{{Function: types.ToolCallFunction{Arguments: partial}}},
					},
				}},
			}, nil
		}
		return nil, nil

	case "content_block_stop":
		return nil, nil

	case "message_delta":
		delta, ok := event["delta"].(map[string]any)
		if !ok {
			return nil, nil
		}
		stopReason, _ := delta["stop_reason"].(string)
		if stopReason != "" {
			return &types.StreamChunk{
				Object:  "chat.completion.chunk",
				Choices: []types.StreamChoice{{Index: 0, FinishReason: mapStopReason(stopReason)}},
			}, nil
		}

	case "message_stop":
		return nil, nil
	}

	return nil, nil
}

// MapError converts an Anthropic error response to a ProviderError.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return llmerrors.FromStatusCode(ProviderName, "", statusCode, message)
}
