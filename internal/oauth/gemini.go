package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

const (
	geminiDefaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	geminiDefaultTokenURL = "https://oauth2.googleapis.com/token"
	geminiOIDCIssuer      = "https://accounts.google.com"
)

var geminiScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GeminiConfig configures the Gemini PKCE authorization-code flow. Unlike
// Claude, Google's OAuth client requires a client secret even when PKCE is
// used.
type GeminiConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	CallbackPort int
}

type geminiFlow struct {
	oauth2Config oauth2.Config

	verifierOnce sync.Once
	verifier     *oidc.IDTokenVerifier
	verifierErr  error
}

// NewGeminiFlow builds a gemini Flow from cfg.
func NewGeminiFlow(cfg GeminiConfig) Flow {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = geminiDefaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = geminiDefaultTokenURL
	}

	return &geminiFlow{
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
			RedirectURL: fmt.Sprintf("http://127.0.0.1:%d/oauth/callback/gemini", cfg.CallbackPort),
			Scopes:      geminiScopes,
		},
	}
}

func (f *geminiFlow) Name() string { return "gemini" }

func (f *geminiFlow) AuthorizeURL(state string) (string, string, error) {
	verifier := oauth2.GenerateVerifier()
	url := f.oauth2Config.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.AccessTypeOffline,
	)
	return url, verifier, nil
}

func (f *geminiFlow) Exchange(ctx context.Context, code, verifier string) (*tokenstore.Info, error) {
	tok, err := f.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oauth: gemini exchange: %w", err)
	}
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		if err := f.verifyIDToken(ctx, raw); err != nil {
			return nil, fmt.Errorf("oauth: gemini id_token verification failed: %w", err)
		}
	}
	return fromOAuth2Token(tok, "gemini"), nil
}

// verifyIDToken checks the id_token Google's token endpoint returns
// alongside the access token against Google's published OIDC discovery
// document and JWKS, rejecting a token whose issuer, audience, or signature
// don't match — the access token itself carries no such guarantee.
func (f *geminiFlow) verifyIDToken(ctx context.Context, raw string) error {
	f.verifierOnce.Do(func() {
		provider, err := oidc.NewProvider(ctx, geminiOIDCIssuer)
		if err != nil {
			f.verifierErr = fmt.Errorf("oidc discovery: %w", err)
			return
		}
		f.verifier = provider.Verifier(&oidc.Config{ClientID: f.oauth2Config.ClientID})
	})
	if f.verifierErr != nil {
		slog.Warn("gemini oidc discovery unavailable, skipping id_token verification", "error", f.verifierErr)
		return nil
	}
	_, err := f.verifier.Verify(ctx, raw)
	return err
}

// Refresh accepts a plain or composite (refresh|project|managed) refresh
// token: the embedded project identifiers, if any, are stripped before the
// call to Google and re-embedded in the returned token's refresh token so
// project discovery results survive a refresh.
func (f *geminiFlow) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Info, error) {
	base, projectID, managedProjectID, err := tokenstore.ParseRefreshParts(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("oauth: gemini refresh: %w", err)
	}

	src := f.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: base})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("oauth: gemini refresh: %w", err)
	}

	info := fromOAuth2Token(tok, "gemini")
	if info.RefreshToken == "" {
		info.RefreshToken = base
	}
	if composite, err := tokenstore.WithProjectIDs(info.RefreshToken, projectID, managedProjectID); err == nil {
		info.RefreshToken = composite
	}
	return info, nil
}
