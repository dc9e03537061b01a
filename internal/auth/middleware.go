package auth

import (
	"errors"
	"log/slog"
	"net/http"
)

var errMissingCredentials = errors.New("auth: missing credentials")

// Middleware authenticates incoming requests by API key and attaches the
// resolved Identity to the request context.
type Middleware struct {
	store       KeyStore
	logger      *slog.Logger
	skipPaths   map[string]bool
	enabled     bool
	certCN      bool
	sessions    *SessionIssuer
	rateLimiter *TenantRateLimiter
}

// MiddlewareConfig contains configuration for the auth middleware.
type MiddlewareConfig struct {
	Store     KeyStore
	Logger    *slog.Logger
	SkipPaths []string // Paths to skip authentication (e.g., /health, /metrics)
	Enabled   bool
	// CertCNHeader, when set, extracts the identity from the
	// X-Client-Cert-CN header instead of an Authorization bearer token
	// (TLS-client-cert mode).
	CertCNHeader bool
	// Sessions, when set, lets a JWT-shaped bearer token (admin session,
	// issued by POST /admin/sessions) authenticate in place of a raw API
	// key. Nil disables session-token auth entirely.
	Sessions *SessionIssuer
	// RateLimiter, when set, enforces a per-identity requests-per-minute
	// cap ahead of the budget check.
	RateLimiter *TenantRateLimiter
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(cfg *MiddlewareConfig) *Middleware {
	skipPaths := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}

	return &Middleware{
		store:       cfg.Store,
		logger:      cfg.Logger,
		skipPaths:   skipPaths,
		enabled:     cfg.Enabled,
		certCN:      cfg.CertCNHeader,
		sessions:    cfg.Sessions,
		rateLimiter: cfg.RateLimiter,
	}
}

// Authenticate returns an HTTP middleware that validates API keys and
// attaches the resulting Identity to the request context. When auth is
// disabled, every request is treated as the synthetic local admin.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), adminIdentity)))
			return
		}

		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key, err := m.extractKey(r)
		if err != nil {
			m.writeUnauthorized(w, "missing or invalid credentials")
			return
		}

		var id Identity
		if m.sessions != nil && looksLikeJWT(key) {
			id, err = m.sessions.Verify(key)
			if err != nil {
				m.writeUnauthorized(w, "invalid or expired session")
				return
			}
		} else {
			keyHash := HashKey(key)
			rec, err := m.store.Lookup(r.Context(), keyHash)
			if err != nil {
				m.logger.Error("failed to lookup api key", "error", err)
				m.writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			if rec == nil || rec.Revoked {
				m.writeUnauthorized(w, "invalid api key")
				return
			}

			if !VerifyKey(key, rec.ArgonHash) {
				m.writeUnauthorized(w, "invalid api key")
				return
			}

			id = Identity{UserID: rec.UserID, Role: rec.Role}
		}

		if m.rateLimiter != nil && !m.rateLimiter.Allow(id.UserID) {
			m.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// extractKey pulls the bearer token from Authorization, or the CN header
// when TLS-client-cert mode is enabled.
func (m *Middleware) extractKey(r *http.Request) (string, error) {
	if m.certCN {
		cn := r.Header.Get("X-Client-Cert-CN")
		if cn == "" {
			return "", errMissingCredentials
		}
		return cn, nil
	}
	return ParseAuthHeader(r.Header.Get("Authorization"))
}

// RequireAdmin gates a handler to identities with the admin role.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r.Context())
		if !ok || !id.IsAdmin() {
			m.writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) writeUnauthorized(w http.ResponseWriter, message string) {
	m.writeError(w, http.StatusUnauthorized, message)
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, message string) {
	errType := "authentication_error"
	switch status {
	case http.StatusForbidden:
		errType = "permission_error"
	case http.StatusTooManyRequests:
		errType = "rate_limit_error"
	case http.StatusInternalServerError:
		errType = "internal_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"` + errType + `"}}`))
}
