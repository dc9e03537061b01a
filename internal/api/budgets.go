package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/apierr"
)

// GetBudget implements GET /admin/budgets/{user_id}.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	rec, err := h.tracker.GetBudget(r.Context(), userID)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load budget"))
		return
	}
	if rec == nil {
		apierr.Write(w, apierr.NotFound("no budget set for user"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetBudgetStatus implements GET /admin/budgets/{user_id}/status: runs the
// same check the proxy path enforces before a request and reports it in a
// form suitable for display, rather than the raw Status enum CheckBudget
// returns.
func (h *Handler) GetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	result, err := h.tracker.CheckBudget(r.Context(), userID)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to check budget"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"status":  result.Status.Label(),
		"percent": result.Percent,
	})
}

type setBudgetRequest struct {
	MonthlyLimit *float64 `json:"monthly_limit"`
	DailyLimit   *float64 `json:"daily_limit"`
}

// SetBudget implements PUT /admin/budgets/{user_id}.
func (h *Handler) SetBudget(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	var req setBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}

	if err := h.tracker.SetBudget(r.Context(), userID, req.MonthlyLimit, req.DailyLimit); err != nil {
		apierr.Write(w, apierr.Internal("failed to set budget"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "updated": true})
}
