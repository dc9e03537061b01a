package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gaud-proxy/gaud/internal/apierr"
)

// OAuthStart implements POST /ui/api/oauth/start/{provider}: mints a state
// token, starts the PKCE flow, and returns the authorize URL for the admin
// UI to redirect the operator to. For the device-code provider (Copilot)
// it calls StartDeviceFlow instead and returns the verification URI and
// user code.
func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	if provider == "copilot" {
		resp, err := h.oauthMgr.StartDeviceFlow(r.Context())
		if err != nil {
			apierr.Write(w, apierr.BadRequest(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"verification_uri": resp.VerificationURI,
			"user_code":        resp.UserCode,
			"expires_in":       int(time.Until(resp.Expiry).Seconds()),
		})
		return
	}

	state := uuid.NewString()
	url, err := h.oauthMgr.StartFlow(provider, state)
	if err != nil {
		apierr.Write(w, apierr.BadRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorize_url": url, "state": state})
}

// OAuthCallback implements GET /oauth/callback/{provider}: the redirect
// target after the operator authorizes access with the upstream vendor.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		apierr.Write(w, apierr.BadRequest("code and state are required"))
		return
	}

	if _, err := h.oauthMgr.CompleteFlow(r.Context(), provider, code, state); err != nil {
		apierr.Write(w, apierr.BadRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "linked": true})
}
