package api

import (
	"net/http"

	"github.com/gaud-proxy/gaud/internal/apierr"
	"github.com/gaud-proxy/gaud/internal/auth"
)

// CreateSession implements POST /admin/sessions: exchanges the caller's
// already-verified admin API key (checked by the auth middleware ahead of
// this handler) for a short-lived JWT session token, so an admin UI can
// hold a bearer credential that expires on its own instead of embedding a
// permanent API key in browser storage.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		apierr.Write(w, apierr.NotImplemented("session tokens are not configured"))
		return
	}

	id, ok := auth.GetIdentity(r.Context())
	if !ok {
		apierr.Write(w, apierr.Unauthorized("missing identity"))
		return
	}

	token, err := h.sessions.Issue(id)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to issue session token"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
	})
}
