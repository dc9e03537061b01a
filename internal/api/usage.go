package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/apierr"
	"github.com/gaud-proxy/gaud/internal/budget"
)

func warningHeaderValue(percent float64) string {
	return fmt.Sprintf("Monthly budget is %.0f%% consumed", percent)
}

func newUsageEntry(userID, reqID, providerName, model string, inputTokens, outputTokens int,
	cost float64, latency time.Duration, status string) budget.UsageEntry {
	return budget.UsageEntry{
		UserID:       userID,
		RequestID:    reqID,
		Provider:     providerName,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		LatencyMS:    latency.Milliseconds(),
		Status:       status,
	}
}

// QueryUsage implements GET /admin/usage: filters user_id, provider, from,
// to, page, per_page (capped at 500).
func (h *Handler) QueryUsage(w http.ResponseWriter, r *http.Request) {
	querier, ok := h.store.(budget.UsageQuerier)
	if !ok {
		apierr.Write(w, apierr.NotImplemented("usage querying is not available for this deployment"))
		return
	}

	q := r.URL.Query()
	filter := budget.UsageFilter{
		UserID:   q.Get("user_id"),
		Provider: q.Get("provider"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierr.Write(w, apierr.BadRequest("from must be RFC3339"))
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierr.Write(w, apierr.BadRequest("to must be RFC3339"))
			return
		}
		filter.To = t
	}
	filter.Page = atoiDefault(q.Get("page"), 1)
	filter.PerPage = atoiDefault(q.Get("per_page"), 50)
	if filter.PerPage > 500 {
		filter.PerPage = 500
	}

	entries, total, err := querier.QueryUsage(r.Context(), filter)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to query usage"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
		"page":  filter.Page,
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
