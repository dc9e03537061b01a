package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

const (
	claudeDefaultAuthURL  = "https://claude.ai/oauth/authorize"
	claudeDefaultTokenURL = "https://console.anthropic.com/v1/oauth/token"
)

var claudeScopes = []string{"org:create_api_key", "user:profile", "user:inference"}

// ClaudeConfig configures the Claude PKCE authorization-code flow.
type ClaudeConfig struct {
	ClientID     string
	AuthURL      string
	TokenURL     string
	CallbackPort int
}

// claudeFlow implements Flow for Anthropic's PKCE-only OAuth (no client
// secret; the auth URL requires an extra "code=true" query parameter).
type claudeFlow struct {
	oauth2Config oauth2.Config
}

// NewClaudeFlow builds a claude Flow from cfg.
func NewClaudeFlow(cfg ClaudeConfig) Flow {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = claudeDefaultAuthURL
	}

	return &claudeFlow{
		oauth2Config: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: claudeDefaultTokenURL,
			},
			RedirectURL: fmt.Sprintf("http://localhost:%d/oauth/callback/claude", cfg.CallbackPort),
			Scopes:      claudeScopes,
		},
	}
}

func (f *claudeFlow) Name() string { return "claude" }

func (f *claudeFlow) AuthorizeURL(state string) (string, string, error) {
	verifier := oauth2.GenerateVerifier()
	url := f.oauth2Config.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("code", "true"),
	)
	return url, verifier, nil
}

func (f *claudeFlow) Exchange(ctx context.Context, code, verifier string) (*tokenstore.Info, error) {
	tok, err := f.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oauth: claude exchange: %w", err)
	}
	return fromOAuth2Token(tok, "claude"), nil
}

func (f *claudeFlow) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Info, error) {
	src := f.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("oauth: claude refresh: %w", err)
	}
	return fromOAuth2Token(tok, "claude"), nil
}
