package oauth

import (
	"strings"
	"testing"
)

func TestClaudeFlow_AuthorizeURL(t *testing.T) {
	f := NewClaudeFlow(ClaudeConfig{ClientID: "client-1", CallbackPort: 8181})

	url, verifier, err := f.AuthorizeURL("state-xyz")
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	if verifier == "" {
		t.Fatal("expected a non-empty PKCE verifier")
	}
	if !strings.Contains(url, "code=true") {
		t.Fatalf("expected authorize URL to request code=true, got %q", url)
	}
	if !strings.Contains(url, "state=state-xyz") {
		t.Fatalf("expected state param in URL, got %q", url)
	}
	if !strings.Contains(url, "code_challenge=") {
		t.Fatalf("expected PKCE code_challenge param, got %q", url)
	}
	if strings.Contains(url, "client_secret") {
		t.Fatalf("claude flow must not send a client secret, got %q", url)
	}
}

func TestClaudeFlow_Name(t *testing.T) {
	f := NewClaudeFlow(ClaudeConfig{})
	if f.Name() != "claude" {
		t.Fatalf("Name() = %q, want claude", f.Name())
	}
}
