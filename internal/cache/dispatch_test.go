package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gaud-proxy/gaud/internal/config"
	"github.com/gaud-proxy/gaud/pkg/types"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestNewResponseCache_Disabled(t *testing.T) {
	rc, err := NewResponseCache(context.Background(), config.CacheConfig{Enabled: false})
	if err != nil || rc != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", rc, err)
	}
}

func TestNewResponseCache_ExactMode(t *testing.T) {
	rc, err := NewResponseCache(context.Background(), config.CacheConfig{
		Enabled: true,
		Mode:    "exact",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	req := &types.ChatRequest{Model: "gpt-4", Messages: []types.ChatMessage{{Role: "user", Content: rawString("hello")}}}
	ctx := context.Background()

	if got, _ := rc.Lookup(ctx, req, nil); got != nil {
		t.Fatalf("expected cache miss, got %v", got)
	}

	if err := rc.Store(ctx, req, []byte("world"), nil); err != nil {
		t.Fatal(err)
	}

	got, err := rc.Lookup(ctx, req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Response) != "world" {
		t.Fatalf("expected cache hit with 'world', got %v", got)
	}
	if got.Similarity != 1.0 {
		t.Errorf("exact hit similarity = %v, want 1.0", got.Similarity)
	}
}

func TestNewResponseCache_SemanticMode_RequiresEmbeddingURL(t *testing.T) {
	_, err := NewResponseCache(context.Background(), config.CacheConfig{
		Enabled: true,
		Mode:    "semantic",
	})
	if err == nil {
		t.Fatal("expected error when embedding_url is missing")
	}
}

func TestSkipRules_ToolRequests(t *testing.T) {
	rc, err := NewResponseCache(context.Background(), config.CacheConfig{Enabled: true, Mode: "exact", SkipToolRequests: true})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	req := &types.ChatRequest{
		Model:    "gpt-4",
		Messages: []types.ChatMessage{{Role: "user", Content: rawString("hi")}},
		Tools:    []types.Tool{{Type: "function"}},
	}
	ctx := context.Background()
	if err := rc.Store(ctx, req, []byte("resp"), nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := rc.Lookup(ctx, req, nil); got != nil {
		t.Fatalf("expected skip for tool request, got hit %v", got)
	}
}

func TestSkipRules_SkipModels(t *testing.T) {
	rc, err := NewResponseCache(context.Background(), config.CacheConfig{
		Enabled:    true,
		Mode:       "exact",
		SkipModels: []string{"gpt-4-vision"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	req := &types.ChatRequest{Model: "gpt-4-vision", Messages: []types.ChatMessage{{Role: "user", Content: rawString("hi")}}}
	ctx := context.Background()
	if err := rc.Store(ctx, req, []byte("resp"), nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := rc.Lookup(ctx, req, nil); got != nil {
		t.Fatalf("expected skip for excluded model, got hit %v", got)
	}
}

func TestRejectLocalEmbeddingURL(t *testing.T) {
	cases := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:8080/v1", true},
		{"http://127.0.0.1:8080/v1", true},
		{"http://10.0.0.5:8080/v1", true},
		{"http://192.168.1.5/v1", true},
		{"https://api.openai.com/v1", false},
	}
	for _, c := range cases {
		err := rejectLocalEmbeddingURL(c.url)
		if (err != nil) != c.wantErr {
			t.Errorf("rejectLocalEmbeddingURL(%q) error = %v, wantErr %v", c.url, err, c.wantErr)
		}
	}
}

func TestFlattenPrompt(t *testing.T) {
	req := &types.ChatRequest{
		Messages: []types.ChatMessage{
			{Role: "system", Content: rawString("be helpful")},
			{Role: "user", Content: rawString("first question")},
			{Role: "assistant", Content: rawString("first answer")},
			{Role: "user", Content: rawString("second question")},
		},
	}
	got := flattenPrompt(req)
	want := "be helpful\n---\nsecond question"
	if got != want {
		t.Errorf("flattenPrompt() = %q, want %q", got, want)
	}
}

func TestFlattenPrompt_NoSystem(t *testing.T) {
	req := &types.ChatRequest{
		Messages: []types.ChatMessage{
			{Role: "user", Content: rawString("hello")},
			{Role: "assistant", Content: rawString("hi there")},
		},
	}
	got := flattenPrompt(req)
	want := "\n---\nhello"
	if got != want {
		t.Errorf("flattenPrompt() = %q, want %q", got, want)
	}
}

func TestFlattenPrompt_Truncated(t *testing.T) {
	long := make([]byte, maxEmbeddingPromptLen+500)
	for i := range long {
		long[i] = 'a'
	}
	req := &types.ChatRequest{
		Messages: []types.ChatMessage{
			{Role: "user", Content: rawString(string(long))},
		},
	}
	got := flattenPrompt(req)
	if len(got) != maxEmbeddingPromptLen {
		t.Errorf("flattenPrompt() length = %d, want %d", len(got), maxEmbeddingPromptLen)
	}
}
