package oauth

import (
	"strings"
	"testing"
)

func TestGeminiFlow_AuthorizeURL(t *testing.T) {
	f := NewGeminiFlow(GeminiConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		CallbackPort: 8282,
	})

	url, verifier, err := f.AuthorizeURL("state-abc")
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	if verifier == "" {
		t.Fatal("expected a non-empty PKCE verifier")
	}
	if !strings.Contains(url, "access_type=offline") {
		t.Fatalf("expected access_type=offline for refresh token issuance, got %q", url)
	}
	if !strings.Contains(url, "code_challenge=") {
		t.Fatalf("expected PKCE code_challenge param, got %q", url)
	}
}

func TestGeminiFlow_Name(t *testing.T) {
	f := NewGeminiFlow(GeminiConfig{})
	if f.Name() != "gemini" {
		t.Fatalf("Name() = %q, want gemini", f.Name())
	}
}
