package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/gaud-proxy/gaud/internal/oauth"
)

// hybridTokenSource resolves access tokens for the OAuth-backed providers
// (claude, gemini, copilot, kiro) through an oauth.Manager, and serves a
// fixed API key for statically-configured providers (litellm) that never
// go through an authorization flow.
type hybridTokenSource struct {
	oauthMgr *oauth.Manager

	mu     sync.RWMutex
	static map[string]string
}

func newHybridTokenSource(oauthMgr *oauth.Manager) *hybridTokenSource {
	return &hybridTokenSource{oauthMgr: oauthMgr, static: make(map[string]string)}
}

func (t *hybridTokenSource) setStatic(provider, apiKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.static[provider] = apiKey
}

func (t *hybridTokenSource) AccessToken(ctx context.Context, provider string) (string, error) {
	t.mu.RLock()
	key, ok := t.static[provider]
	t.mu.RUnlock()
	if ok {
		return key, nil
	}
	if t.oauthMgr == nil {
		return "", fmt.Errorf("gaud-server: no token source configured for provider %s", provider)
	}
	return t.oauthMgr.AccessToken(ctx, provider)
}

func (t *hybridTokenSource) ForceRefresh(ctx context.Context, provider string) (string, error) {
	t.mu.RLock()
	key, ok := t.static[provider]
	t.mu.RUnlock()
	if ok {
		return key, nil
	}
	if t.oauthMgr == nil {
		return "", fmt.Errorf("gaud-server: no token source configured for provider %s", provider)
	}
	return t.oauthMgr.ForceRefresh(ctx, provider)
}
