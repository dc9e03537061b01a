// Package kiro implements the Kiro (AWS CodeWhisperer / Bedrock-Converse
// style) provider adapter used by Kiro Desktop and AWS-SSO-OIDC accounts.
// Kiro's wire format tracks the Bedrock Converse API closely but layers on
// a handful of quirks: adjacent same-role messages must be merged before
// sending, there is no system-role slot so the system prompt rides on the
// first user message, oversized tool descriptions get truncated in place
// with the full text appended to that system prompt, and the streaming
// transport is a real AWS event-stream rather than SSE.
package kiro

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/provider"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "kiro"

	// DefaultBaseURL is the Kiro backend endpoint used by Kiro Desktop.
	DefaultBaseURL = "https://codewhisperer.us-east-1.amazonaws.com"

	// maxToolDescriptionLen is the point past which a tool description is
	// replaced by a placeholder and moved into the system prompt, since
	// Kiro's backend rejects oversized inline tool specs.
	maxToolDescriptionLen = 10000

	// tokenizerCorrectionFactor compensates for the local tokenizer's
	// under-count relative to Kiro's actual completion tokenizer.
	tokenizerCorrectionFactor = 1.15
)

// Provider implements the Kiro API adapter.
type Provider struct {
	baseURL string
	models  []string
	client  *http.Client
}

// New creates a Kiro provider instance.
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

// SupportsModel checks if the provider supports the given model.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "kiro:")
}

// converseRequest is the Bedrock-Converse-shaped payload Kiro's backend
// accepts.
type converseRequest struct {
	ModelID         string           `json:"modelId"`
	Messages        []converseMsg    `json:"messages"`
	InferenceConfig *inferenceConfig `json:"inferenceConfig,omitempty"`
	ToolConfig      *toolConfig      `json:"toolConfig,omitempty"`
}

type converseMsg struct {
	Role    string          `json:"role"`
	Content []converseBlock `json:"content"`
}

type converseBlock struct {
	Text       string      `json:"text,omitempty"`
	ToolUse    *toolUse    `json:"toolUse,omitempty"`
	ToolResult *toolResult `json:"toolResult,omitempty"`
}

type toolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

type toolResult struct {
	ToolUseID string           `json:"toolUseId"`
	Content   []toolResultText `json:"content"`
}

type toolResultText struct {
	Text string `json:"text,omitempty"`
}

type inferenceConfig struct {
	MaxTokens     int      `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type toolConfig struct {
	Tools []toolSpecWrapper `json:"tools,omitempty"`
}

type toolSpecWrapper struct {
	ToolSpec toolSpec `json:"toolSpec"`
}

type toolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// BuildRequest creates an HTTP request for the Kiro backend.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, accessToken string) (*http.Request, error) {
	creq, err := p.transformRequest(req)
	if err != nil {
		return nil, fmt.Errorf("transform request: %w", err)
	}

	body, err := json.Marshal(creq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "converse"
	if req.Stream {
		action = "converse-stream"
	}
	url := fmt.Sprintf("%s/%s", p.baseURL, action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	return httpReq, nil
}

func (p *Provider) transformRequest(req *types.ChatRequest) (*converseRequest, error) {
	creq := &converseRequest{
		ModelID:         strings.TrimPrefix(req.Model, "kiro:"),
		InferenceConfig: &inferenceConfig{},
	}

	if req.MaxTokens > 0 {
		creq.InferenceConfig.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		creq.InferenceConfig.Temperature = req.Temperature
	}
	if req.TopP != nil {
		creq.InferenceConfig.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		creq.InferenceConfig.StopSequences = req.Stop
	}

	var systemPrompt strings.Builder
	messages := make([]converseMsg, 0, len(req.Messages))

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			var text string
			if err := json.Unmarshal(msg.Content, &text); err == nil && text != "" {
				if systemPrompt.Len() > 0 {
					systemPrompt.WriteString("\n\n")
				}
				systemPrompt.WriteString(text)
			}
			continue
		}

		block, role, err := p.transformMessage(msg)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converseMsg{Role: role, Content: block})
	}

	messages = mergeAdjacentSameRole(messages)

	if len(req.Tools) > 0 {
		// Truncating an oversized tool description appends its full text to
		// systemPrompt, so tools are converted before the prompt is folded in.
		creq.ToolConfig = p.transformTools(req.Tools, &systemPrompt)
	}

	if systemPrompt.Len() > 0 {
		prefix := converseBlock{Text: systemPrompt.String()}
		if len(messages) > 0 && messages[0].Role == "user" {
			messages[0].Content = append([]converseBlock{prefix}, messages[0].Content...)
		} else {
			messages = append([]converseMsg{{Role: "user", Content: []converseBlock{prefix}}}, messages...)
		}
	}

	creq.Messages = messages

	return creq, nil
}

func (p *Provider) transformMessage(msg types.ChatMessage) ([]converseBlock, string, error) {
	if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
		blocks := make([]converseBlock, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			blocks = append(blocks, converseBlock{ToolUse: &toolUse{ToolUseID: tc.ID, Name: tc.Function.Name, Input: input}})
		}
		return blocks, "assistant", nil
	}

	if msg.Role == "tool" {
		var content string
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			content = string(msg.Content)
		}
		return []converseBlock{{ToolResult: &toolResult{ToolUseID: msg.ToolCallID, Content: []toolResultText{{Text: content}}}}}, "user", nil
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err != nil {
		var arr []map[string]any
		if err := json.Unmarshal(msg.Content, &arr); err != nil {
			return nil, "", fmt.Errorf("invalid message content format")
		}
		var blocks []converseBlock
		for _, c := range arr {
			if s, ok := c["text"].(string); ok {
				blocks = append(blocks, converseBlock{Text: s})
			}
		}
		return blocks, msg.Role, nil
	}
	return []converseBlock{{Text: text}}, msg.Role, nil
}

// mergeAdjacentSameRole collapses consecutive same-role turns into one,
// which Kiro requires since its Converse dialect rejects back-to-back
// same-role messages (a shape that arises after system-prompt folding or
// multi-block tool_result sequences).
func mergeAdjacentSameRole(messages []converseMsg) []converseMsg {
	if len(messages) == 0 {
		return messages
	}
	out := make([]converseMsg, 0, len(messages))
	out = append(out, messages[0])
	for _, m := range messages[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Content = append(last.Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// transformTools builds the tool config, truncating any description over
// maxToolDescriptionLen and appending its full text to systemPrompt so the
// model still sees it even though the inline spec was trimmed.
func (p *Provider) transformTools(tools []types.Tool, systemPrompt *strings.Builder) *toolConfig {
	config := &toolConfig{}

	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}

		var params map[string]any
		if len(tool.Function.Parameters) > 0 {
			_ = json.Unmarshal(tool.Function.Parameters, &params)
		}

		desc := tool.Function.Description
		if len(desc) > maxToolDescriptionLen {
			systemPrompt.WriteString(fmt.Sprintf("\n\nFull description for tool %q:\n%s", tool.Function.Name, desc))
			desc = fmt.Sprintf("(description truncated, see system prompt for tool %q)", tool.Function.Name)
		}

		config.Tools = append(config.Tools, toolSpecWrapper{ToolSpec: toolSpec{
			Name:        tool.Function.Name,
			Description: desc,
			InputSchema: map[string]any{"json": params},
		}})
	}

	return config
}

// converseResponse is the non-streaming Converse response shape.
type converseResponse struct {
	Output struct {
		Message converseMsg `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens               int     `json:"inputTokens"`
		OutputTokens              int     `json:"outputTokens"`
		TotalTokens               int     `json:"totalTokens"`
		ContextUsagePercentage    float64 `json:"contextUsagePercentage"`
		MaxInputTokens            int     `json:"maxInputTokens"`
	} `json:"usage"`
}

// ParseResponse transforms a buffered Kiro response into the shared IR.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var cresp converseResponse
	if err := json.Unmarshal(body, &cresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return p.transformResponse(&cresp), nil
}

func (p *Provider) transformResponse(resp *converseResponse) *types.ChatResponse {
	var textContent string
	var toolCalls []types.ToolCall

	for _, block := range resp.Output.Message.Content {
		if block.Text != "" {
			textContent += block.Text
		}
		if block.ToolUse != nil {
			inputJSON, _ := json.Marshal(block.ToolUse.Input)
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   block.ToolUse.ToolUseID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      block.ToolUse.Name,
					Arguments: string(inputJSON),
				},
			})
		}
	}

	message := types.ChatMessage{Role: "assistant", Content: json.RawMessage(fmt.Sprintf("%q", textContent))}
	if len(toolCalls) > 0 {
		message.ToolCalls = toolCalls
	}

	usage := deriveUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens,
		resp.Usage.ContextUsagePercentage, resp.Usage.MaxInputTokens, textContent)

	return &types.ChatResponse{
		Object: "chat.completion",
		Choices: []types.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: mapStopReason(resp.StopReason),
		}},
		Usage: usage,
	}
}

// deriveUsage reconstructs token counts. Kiro reports either a direct
// input/output/total triple or, more often, only contextUsagePercentage
// and maxInputTokens; in the latter case total is derived from the
// percentage, completion tokens from a local tokenizer approximation
// corrected by tokenizerCorrectionFactor, and prompt tokens by
// subtraction.
func deriveUsage(inputTokens, outputTokens, totalTokens int, contextUsagePercentage float64, maxInputTokens int, completionText string) *types.Usage {
	if totalTokens > 0 {
		return &types.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens, TotalTokens: totalTokens}
	}
	if contextUsagePercentage <= 0 || maxInputTokens <= 0 {
		return nil
	}

	total := int(contextUsagePercentage * float64(maxInputTokens))
	completion := int(float64(approximateTokenCount(completionText)) * tokenizerCorrectionFactor)
	prompt := total - completion
	if prompt < 0 {
		prompt = 0
	}

	return &types.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// approximateTokenCount is a cheap length-based estimate (about four bytes
// per token) used only to seed deriveUsage's correction; it is not exact.
func approximateTokenCount(s string) int {
	return (len(s) + 3) / 4
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

// ParseStreamChunk is unused for Kiro: its stream is a binary AWS
// event-stream, not line-delimited SSE, so decoding happens in
// DecodeEventStream instead. It is kept to satisfy the Provider interface
// and returns an error if ever invoked directly.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	return nil, fmt.Errorf("kiro: use DecodeEventStream for streaming responses")
}

// pendingToolCall accumulates a tool_use block's argument fragments across
// multiple event-stream frames, since Kiro streams partial JSON that must
// be reassembled with bracket-balance tracking rather than naive
// concatenation (a truncated frame can otherwise leave dangling braces).
type pendingToolCall struct {
	id, name string
	argsBuf  strings.Builder
	depth    int
	started  bool
}

// DecodeEventStream reads a Kiro converse-stream response body (real AWS
// event-stream framing, not SSE) and emits one types.StreamChunk per
// meaningful frame. Repeated toolUseEvent frames carrying an
// already-completed tool call are dropped rather than re-emitted.
func DecodeEventStream(body io.Reader) (<-chan *types.StreamChunk, <-chan error) {
	out := make(chan *types.StreamChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		decoder := eventstream.NewDecoder()
		buf := make([]byte, 64*1024)
		seenToolIDs := make(map[string]bool)
		var pending *pendingToolCall

		for {
			msg, err := decoder.Decode(body, buf)
			if err != nil {
				if err == io.EOF {
					return
				}
				errc <- fmt.Errorf("decode event stream: %w", err)
				return
			}

			var event map[string]any
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				continue
			}

			if content, ok := event["content"].(string); ok {
				out <- &types.StreamChunk{
					Object:  "chat.completion.chunk",
					Choices: []types.StreamChoice{{Index: 0, Delta: types.StreamDelta{Content: content}}},
				}
				continue
			}

			if toolUseID, ok := event["toolUseId"].(string); ok {
				if seenToolIDs[toolUseID] && pending == nil {
					continue // duplicate frame for an already-finished tool call
				}
				if pending == nil || pending.id != toolUseID {
					pending = &pendingToolCall{id: toolUseID}
					if name, ok := event["name"].(string); ok {
						pending.name = name
					}
				}
				if fragment, ok := event["input"].(string); ok {
					pending.argsBuf.WriteString(fragment)
					pending.depth += bracketDelta(fragment)
				}
				stop, _ := event["stop"].(bool)
				if stop || (pending.depth <= 0 && pending.argsBuf.Len() > 0) {
					seenToolIDs[toolUseID] = true
					args := balanceBrackets(pending.argsBuf.String())
					out <- &types.StreamChunk{
						Object: "chat.completion.chunk",
						Choices: []types.StreamChoice{{
							Index: 0,
							Delta: types.StreamDelta{
								ToolCalls: []types.ToolCall{{
									ID:       pending.id,
									Type:     "function",
									Function: types.ToolCallFunction{Name: pending.name, Arguments: args},
								}},
							},
						}},
					}
					pending = nil
				}
				continue
			}

			if stopReason, ok := event["stopReason"].(string); ok {
				out <- &types.StreamChunk{
					Object:  "chat.completion.chunk",
					Choices: []types.StreamChoice{{Index: 0, FinishReason: mapStopReason(stopReason)}},
				}
			}
		}
	}()

	return out, errc
}

// bracketDelta returns the net change in open-brace depth contributed by s.
func bracketDelta(s string) int {
	delta := 0
	for _, r := range s {
		switch r {
		case '{', '[':
			delta++
		case '}', ']':
			delta--
		}
	}
	return delta
}

// balanceBrackets appends one '}' per unclosed '{' or '[' in s, in case the
// stream ended mid-object. The result is valid JSON only when every
// unclosed structure is an object; an open array also gets a '}'.
func balanceBrackets(s string) string {
	depth := bracketDelta(s)
	if depth <= 0 {
		return s
	}
	var closer strings.Builder
	closer.WriteString(s)
	// Close the most recently opened structures first; without tracking
	// which kind was opened we default to object close, the common case
	// for tool-call arguments.
	for i := 0; i < depth; i++ {
		closer.WriteByte('}')
	}
	return closer.String()
}

// MapError converts a Kiro error response to a ProviderError.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Message string `json:"message"`
	}
	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		message = errResp.Message
	}
	return llmerrors.FromStatusCode(ProviderName, "", statusCode, message)
}
