package kiro

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/provider"
	"github.com/gaud-proxy/gaud/pkg/types"
)

func TestProvider_SupportsModel(t *testing.T) {
	p, _ := New(provider.Config{Models: []string{"kiro:claude-sonnet"}})

	if !p.SupportsModel("kiro:claude-sonnet") {
		t.Error("expected exact model match to be supported")
	}
	if !p.SupportsModel("kiro:some-other-model") {
		t.Error("expected kiro: prefix to be supported")
	}
	if p.SupportsModel("gpt-4") {
		t.Error("did not expect gpt-4 to be supported")
	}
}

func TestSystemPromptFoldedIntoFirstUserMessage(t *testing.T) {
	pp := &Provider{}
	req := &types.ChatRequest{
		Model: "kiro:claude-sonnet",
		Messages: []types.ChatMessage{
			{Role: "system", Content: json.RawMessage(`"be concise"`)},
			{Role: "user", Content: json.RawMessage(`"hello"`)},
		},
	}

	out, err := pp.transformRequest(req)
	if err != nil {
		t.Fatalf("transformRequest() error = %v", err)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("Messages count = %d, want 1", len(out.Messages))
	}
	if out.Messages[0].Role != "user" {
		t.Fatalf("Role = %s, want user", out.Messages[0].Role)
	}
	if len(out.Messages[0].Content) != 2 {
		t.Fatalf("Content blocks = %d, want 2 (system prefix + text)", len(out.Messages[0].Content))
	}
	if out.Messages[0].Content[0].Text != "be concise" {
		t.Errorf("first block = %q, want system prompt", out.Messages[0].Content[0].Text)
	}
}

func TestMergeAdjacentSameRole(t *testing.T) {
	messages := []converseMsg{
		{Role: "user", Content: []converseBlock{{Text: "a"}}},
		{Role: "user", Content: []converseBlock{{Text: "b"}}},
		{Role: "assistant", Content: []converseBlock{{Text: "c"}}},
	}

	merged := mergeAdjacentSameRole(messages)
	if len(merged) != 2 {
		t.Fatalf("merged count = %d, want 2", len(merged))
	}
	if len(merged[0].Content) != 2 {
		t.Fatalf("merged[0] content = %d, want 2", len(merged[0].Content))
	}
}

func TestTruncateOversizedToolDescription(t *testing.T) {
	pp := &Provider{}
	longDesc := strings.Repeat("x", maxToolDescriptionLen+1)

	var sysPrompt strings.Builder
	tools := []types.Tool{{Type: "function", Function: types.ToolFunction{Name: "search", Description: longDesc}}}

	cfg := pp.transformTools(tools, &sysPrompt)
	if len(cfg.Tools[0].ToolSpec.Description) >= maxToolDescriptionLen {
		t.Error("expected description to be truncated")
	}
	if !strings.Contains(sysPrompt.String(), longDesc) {
		t.Error("expected full description to be appended to system prompt")
	}
}

func TestBalanceBrackets(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`{"a":{"b":1}`, `{"a":{"b":1}}`},
		{`{"a":[1,2`, `{"a":[1,2}}`}, // best-effort; depth-only tracking
	}
	for _, tt := range tests {
		if got := balanceBrackets(tt.in); got != tt.want {
			t.Errorf("balanceBrackets(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveUsage_FromContextPercentage(t *testing.T) {
	usage := deriveUsage(0, 0, 0, 0.5, 1000, "a short completion")
	if usage == nil {
		t.Fatal("expected non-nil usage")
	}
	if usage.TotalTokens != 500 {
		t.Errorf("TotalTokens = %d, want 500", usage.TotalTokens)
	}
	if usage.PromptTokens+usage.CompletionTokens != usage.TotalTokens {
		t.Errorf("prompt+completion = %d, want total %d", usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
	}
}

func TestMapStopReason(t *testing.T) {
	if mapStopReason("tool_use") != "tool_calls" {
		t.Error("expected tool_use to map to tool_calls")
	}
	if mapStopReason("end_turn") != "stop" {
		t.Error("expected end_turn to map to stop")
	}
}
