// Package api implements the HTTP surface fronting the proxy: the
// OpenAI-compatible client routes, the admin management routes, and the
// OAuth redirect/device-flow endpoints. Everything downstream of request
// parsing is delegated to internal/router, internal/cache,
// internal/budget, internal/pricing and internal/streaming; this package
// is glue, not policy.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gaud-proxy/gaud/internal/auth"
	"github.com/gaud-proxy/gaud/internal/budget"
	"github.com/gaud-proxy/gaud/internal/cache"
	"github.com/gaud-proxy/gaud/internal/oauth"
	"github.com/gaud-proxy/gaud/internal/pricing"
	"github.com/gaud-proxy/gaud/internal/provider"
	"github.com/gaud-proxy/gaud/internal/resilience"
	"github.com/gaud-proxy/gaud/internal/router"
)

// defaultMaxTokens is used when a chat request omits max_tokens.
const defaultMaxTokens = 8192

// Handler wires the request pipeline together for every route this
// package registers.
type Handler struct {
	registry *provider.Registry
	router   *router.Router
	tokens   router.TokenSource
	breakers *resilience.Manager
	cache    *cache.ResponseCache
	tracker  *budget.Tracker
	store    budget.Store
	audit    *budget.AuditLogger
	pricing  *pricing.Calculator
	keys     auth.KeyStore
	users    *UserStore
	settings *SettingsStore
	oauthMgr *oauth.Manager
	sessions *auth.SessionIssuer
	logger   *slog.Logger
}

// Config carries every dependency Handler needs. All fields are required
// except Cache, which is nil when caching is disabled.
type Config struct {
	Registry *provider.Registry
	Router   *router.Router
	Tokens   router.TokenSource
	Breakers *resilience.Manager
	Cache    *cache.ResponseCache
	Tracker  *budget.Tracker
	Store    budget.Store
	Audit    *budget.AuditLogger
	Pricing  *pricing.Calculator
	Keys     auth.KeyStore
	Users    *UserStore
	Settings *SettingsStore
	OAuthMgr *oauth.Manager
	Sessions *auth.SessionIssuer
	Logger   *slog.Logger
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		registry: cfg.Registry,
		router:   cfg.Router,
		tokens:   cfg.Tokens,
		breakers: cfg.Breakers,
		cache:    cfg.Cache,
		tracker:  cfg.Tracker,
		store:    cfg.Store,
		audit:    cfg.Audit,
		pricing:  cfg.Pricing,
		keys:     cfg.Keys,
		users:    cfg.Users,
		settings: cfg.Settings,
		oauthMgr: cfg.OAuthMgr,
		sessions: cfg.Sessions,
		logger:   logger,
	}
}

// RegisterRoutes attaches every route this package owns to mux. Client
// routes are wrapped in authMW.Authenticate, admin routes in
// authMW.Authenticate plus authMW.RequireAdmin; /health and the OAuth
// routes are registered without authentication.
func RegisterRoutes(mux *http.ServeMux, h *Handler, authMW *auth.Middleware) {
	mux.Handle("POST /v1/chat/completions", authMW.Authenticate(http.HandlerFunc(h.ChatCompletions)))
	mux.Handle("GET /v1/models", authMW.Authenticate(http.HandlerFunc(h.ListModels)))
	mux.Handle("POST /v1/embeddings", authMW.Authenticate(http.HandlerFunc(h.Embeddings)))
	mux.HandleFunc("GET /health", h.Health)

	admin := func(fn http.HandlerFunc) http.Handler {
		return authMW.Authenticate(authMW.RequireAdmin(fn))
	}
	mux.Handle("POST /admin/users", admin(h.CreateUser))
	mux.Handle("GET /admin/users", admin(h.ListUsers))
	mux.Handle("GET /admin/users/{id}", admin(h.GetUser))
	mux.Handle("PUT /admin/users/{id}", admin(h.UpdateUser))
	mux.Handle("DELETE /admin/users/{id}", admin(h.DeleteUser))

	mux.Handle("POST /admin/keys", admin(h.CreateKey))
	mux.Handle("GET /admin/keys", admin(h.ListKeys))
	mux.Handle("DELETE /admin/keys/{id}", admin(h.RevokeKey))

	mux.Handle("GET /admin/budgets/{user_id}", admin(h.GetBudget))
	mux.Handle("PUT /admin/budgets/{user_id}", admin(h.SetBudget))
	mux.Handle("GET /admin/budgets/{user_id}/status", admin(h.GetBudgetStatus))

	mux.Handle("GET /admin/usage", admin(h.QueryUsage))

	mux.Handle("GET /admin/settings", admin(h.GetSettings))
	mux.Handle("PUT /admin/settings", admin(h.PutSettings))

	mux.Handle("POST /admin/sessions", admin(h.CreateSession))

	mux.HandleFunc("GET /oauth/callback/{provider}", h.OAuthCallback)
	mux.HandleFunc("POST /ui/api/oauth/start/{provider}", h.OAuthStart)
}
