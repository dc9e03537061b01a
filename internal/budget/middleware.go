package budget

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gaud-proxy/gaud/internal/apierr"
	"github.com/gaud-proxy/gaud/internal/auth"
)

// Middleware pre-checks a user's budget before dispatch and, when usage has
// crossed the warning threshold, attaches an X-Budget-Warning header to the
// eventual response.
type Middleware struct {
	tracker *Tracker
	logger  *slog.Logger
	enabled bool
}

// NewMiddleware creates a budget-enforcing middleware. When enabled is
// false, Enforce is a no-op passthrough.
func NewMiddleware(tracker *Tracker, logger *slog.Logger, enabled bool) *Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Middleware{tracker: tracker, logger: logger, enabled: enabled}
}

// Enforce wraps next with the pre-dispatch budget check.
func (m *Middleware) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := auth.GetIdentity(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.tracker.CheckBudget(r.Context(), id.UserID)
		if err != nil {
			m.logger.Error("budget check failed", "user_id", id.UserID, "error", err)
			writeAPIErr(w, apierr.Internal("budget check failed"))
			return
		}

		switch result.Status {
		case StatusExceeded:
			writeAPIErr(w, apierr.BudgetExceeded("budget exceeded"))
			return
		case StatusWarning:
			w.Header().Set("X-Budget-Warning", fmt.Sprintf("Monthly budget is %.0f%% consumed", result.Percent))
		}

		next.ServeHTTP(w, r)
	})
}

func writeAPIErr(w http.ResponseWriter, e *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": e.Message,
			"type":    e.Type.String(),
			"code":    e.Code,
		},
	})
}
