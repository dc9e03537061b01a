package main

import (
	"log/slog"

	"github.com/gaud-proxy/gaud/internal/config"
	"github.com/gaud-proxy/gaud/internal/oauth"
)

// registerOAuthFlow registers the appropriate oauth.Flow for provider types
// backed by an authorization flow. Providers with no matching type (e.g.
// litellm, whose credentials are a static API key) register nothing, and
// hybridTokenSource serves them from its static map instead.
//
// clientSecret is the already-resolved value of cfg.ClientSecret (an
// env://, vault://, or literal secret reference resolved through the
// secret manager by the caller) so this function never has to know about
// secret-URI schemes itself.
func registerOAuthFlow(mgr *oauth.Manager, cfg config.ProviderConfig, clientSecret string, logger *slog.Logger) {
	switch cfg.Type {
	case "claude":
		mgr.Register(oauth.NewClaudeFlow(oauth.ClaudeConfig{
			ClientID:     cfg.ClientID,
			AuthURL:      cfg.AuthURL,
			TokenURL:     cfg.TokenURL,
			CallbackPort: cfg.CallbackPort,
		}))
	case "gemini":
		mgr.Register(oauth.NewGeminiFlow(oauth.GeminiConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: clientSecret,
			AuthURL:      cfg.AuthURL,
			TokenURL:     cfg.TokenURL,
			CallbackPort: cfg.CallbackPort,
		}))
	case "copilot":
		mgr.Register(oauth.NewCopilotFlow(oauth.CopilotConfig{ClientID: cfg.ClientID}))
	case "kiro":
		mgr.Register(oauth.NewKiroFlow(oauth.KiroConfig{}))
	case "litellm":
		// static API key, no authorization flow.
	default:
		logger.Warn("no oauth flow registered for provider type", "type", cfg.Type, "name", cfg.Name)
	}
}
