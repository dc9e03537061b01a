package oauth

import (
	"context"
	"testing"
)

func TestCopilotFlow_AuthorizeURLUnsupported(t *testing.T) {
	f := NewCopilotFlow(CopilotConfig{})
	if _, _, err := f.AuthorizeURL("state"); err == nil {
		t.Fatal("expected AuthorizeURL to error for the device flow provider")
	}
}

func TestCopilotFlow_ExchangeUnsupported(t *testing.T) {
	f := NewCopilotFlow(CopilotConfig{})
	if _, err := f.Exchange(context.Background(), "code", "verifier"); err == nil {
		t.Fatal("expected Exchange to error for the device flow provider")
	}
}

func TestCopilotFlow_RefreshUnsupported(t *testing.T) {
	f := NewCopilotFlow(CopilotConfig{})
	if _, err := f.Refresh(context.Background(), "refresh-token"); err == nil {
		t.Fatal("expected Refresh to error: Copilot tokens don't support refresh")
	}
}

func TestCopilotFlow_DefaultClientID(t *testing.T) {
	f := NewCopilotFlow(CopilotConfig{})
	cf, ok := f.(*copilotFlow)
	if !ok {
		t.Fatal("expected *copilotFlow")
	}
	if cf.oauth2Config.ClientID != copilotDefaultClientID {
		t.Fatalf("ClientID = %q, want default %q", cf.oauth2Config.ClientID, copilotDefaultClientID)
	}
}

func TestCopilotFlow_Name(t *testing.T) {
	f := NewCopilotFlow(CopilotConfig{})
	if f.Name() != "copilot" {
		t.Fatalf("Name() = %q, want copilot", f.Name())
	}
}
