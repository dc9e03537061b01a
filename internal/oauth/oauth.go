// Package oauth manages the OAuth credentials the proxy presents to each
// upstream provider: PKCE authorization-code flows for Claude and Gemini,
// the device-code flow (RFC 8628) for Copilot, and a proprietary
// refresh-based flow for Kiro. It implements router.TokenSource so the
// router can resolve and force-refresh access tokens without knowing how
// any given provider issues them.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

// Sentinel errors, mirroring the provider-agnostic failure modes an OAuth
// flow can hit regardless of which provider issued the token.
var (
	ErrTokenNotFound     = errors.New("oauth: no token stored for provider")
	ErrNoRefreshToken    = errors.New("oauth: provider has no refresh token")
	ErrInvalidState      = errors.New("oauth: invalid or expired state token")
	ErrFlowExpired       = errors.New("oauth: authorization flow expired")
	ErrProviderUnknown   = errors.New("oauth: unknown provider")
	ErrProviderNotConfig = errors.New("oauth: provider not configured")
)

// Flow describes how a provider issues and renews credentials.
type Flow interface {
	// Name is the provider identifier ("claude", "gemini", "copilot", "kiro").
	Name() string
	// AuthorizeURL returns the URL the user should visit to start the flow,
	// along with any verifier state the manager must hold onto until the
	// callback arrives (PKCE code verifier, in practice).
	AuthorizeURL(state string) (url, verifier string, err error)
	// Exchange trades an authorization code (plus its verifier) for a token.
	Exchange(ctx context.Context, code, verifier string) (*tokenstore.Info, error)
	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (*tokenstore.Info, error)
}

// pendingState is the PKCE verifier stashed between AuthorizeURL and the
// callback that completes the flow.
type pendingState struct {
	provider string
	verifier string
	created  time.Time
}

const stateTTL = 10 * time.Minute

// Manager orchestrates OAuth flows across providers and persists the
// resulting tokens to a Store.
type Manager struct {
	mu    sync.Mutex
	flows map[string]Flow
	state map[string]pendingState

	store  tokenstore.Store
	client *http.Client
}

// NewManager creates a Manager backed by store. Providers must be
// registered with Register before StartFlow/CompleteFlow can use them.
func NewManager(store tokenstore.Store) *Manager {
	return &Manager{
		flows:  make(map[string]Flow),
		state:  make(map[string]pendingState),
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register attaches a Flow implementation for its provider name.
func (m *Manager) Register(flow Flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flow.Name()] = flow
}

func (m *Manager) flow(provider string) (Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfig, provider)
	}
	return f, nil
}

// StartFlow begins an authorization-code flow for provider and returns the
// URL to send the user to.
func (m *Manager) StartFlow(provider, state string) (string, error) {
	f, err := m.flow(provider)
	if err != nil {
		return "", err
	}

	url, verifier, err := f.AuthorizeURL(state)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.state[state] = pendingState{provider: provider, verifier: verifier, created: time.Now()}
	m.mu.Unlock()

	return url, nil
}

// CompleteFlow validates state and exchanges code for a token, persisting
// the result.
func (m *Manager) CompleteFlow(ctx context.Context, provider, code, state string) (*tokenstore.Info, error) {
	m.mu.Lock()
	pending, ok := m.state[state]
	if ok {
		delete(m.state, state)
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrInvalidState
	}
	if time.Since(pending.created) > stateTTL {
		return nil, ErrFlowExpired
	}
	if pending.provider != provider {
		return nil, ErrInvalidState
	}

	f, err := m.flow(provider)
	if err != nil {
		return nil, err
	}

	tok, err := f.Exchange(ctx, code, pending.verifier)
	if err != nil {
		return nil, err
	}
	tok.Provider = provider

	if err := m.store.Save(ctx, provider, tok); err != nil {
		return nil, fmt.Errorf("oauth: save token for %s: %w", provider, err)
	}
	return tok, nil
}

// RefreshToken loads the stored token for provider and exchanges its
// refresh token for a fresh access token, persisting the result.
func (m *Manager) RefreshToken(ctx context.Context, provider string) (*tokenstore.Info, error) {
	current, err := m.store.Load(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("oauth: load token for %s: %w", provider, err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, provider)
	}
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRefreshToken, provider)
	}

	f, err := m.flow(provider)
	if err != nil {
		return nil, err
	}

	fresh, err := f.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	fresh.Provider = provider
	if fresh.RefreshToken == "" {
		// most refresh responses omit a new refresh token; carry the old one forward.
		fresh.RefreshToken = current.RefreshToken
	}

	if err := m.store.Save(ctx, provider, fresh); err != nil {
		return nil, fmt.Errorf("oauth: save refreshed token for %s: %w", provider, err)
	}
	return fresh, nil
}

// AccessToken implements router.TokenSource: returns the current access
// token for provider, refreshing it first if it's near expiry.
func (m *Manager) AccessToken(ctx context.Context, provider string) (string, error) {
	tok, err := m.store.Load(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("oauth: load token for %s: %w", provider, err)
	}
	if tok == nil {
		return "", fmt.Errorf("%w: %s", ErrTokenNotFound, provider)
	}

	if tok.NeedsRefresh() {
		refreshed, err := m.RefreshToken(ctx, provider)
		if err != nil {
			if tok.IsExpired() {
				return "", err
			}
			// still within the safety margin; keep serving the stale token
			// rather than fail the request over a refresh hiccup.
			return tok.AccessToken, nil
		}
		return refreshed.AccessToken, nil
	}

	return tok.AccessToken, nil
}

// ForceRefresh implements router.TokenSource: unconditionally refreshes
// the token for provider, used after the upstream rejects a cached token.
func (m *Manager) ForceRefresh(ctx context.Context, provider string) (string, error) {
	fresh, err := m.RefreshToken(ctx, provider)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Status reports the current OAuth state for a provider.
type Status struct {
	Provider      string
	Authenticated bool
	Expired       bool
	NeedsRefresh  bool
	ExpiresIn     time.Duration
}

// GetStatus reports the current OAuth state for provider without
// triggering a refresh.
func (m *Manager) GetStatus(ctx context.Context, provider string) (*Status, error) {
	tok, err := m.store.Load(ctx, provider)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return &Status{Provider: provider}, nil
	}
	return &Status{
		Provider:      provider,
		Authenticated: true,
		Expired:       tok.IsExpired(),
		NeedsRefresh:  tok.NeedsRefresh(),
		ExpiresIn:     tok.TimeUntilExpiry(),
	}, nil
}

// RemoveToken deletes the stored token for provider (logout).
func (m *Manager) RemoveToken(ctx context.Context, provider string) error {
	return m.store.Remove(ctx, provider)
}

// SetProjectIDs embeds projectID and managedProjectID into the stored
// token's composite refresh token for provider, so later refreshes carry
// project discovery results forward without a separate lookup.
func (m *Manager) SetProjectIDs(ctx context.Context, provider, projectID, managedProjectID string) error {
	tok, err := m.store.Load(ctx, provider)
	if err != nil {
		return fmt.Errorf("oauth: load token for %s: %w", provider, err)
	}
	if tok == nil {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, provider)
	}

	composite, err := tokenstore.WithProjectIDs(tok.RefreshToken, projectID, managedProjectID)
	if err != nil {
		return err
	}
	tok.RefreshToken = composite
	return m.store.Save(ctx, provider, tok)
}
