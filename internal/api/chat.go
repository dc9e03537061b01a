package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/apierr"
	"github.com/gaud-proxy/gaud/internal/auth"
	"github.com/gaud-proxy/gaud/internal/budget"
	"github.com/gaud-proxy/gaud/internal/cache"
	"github.com/gaud-proxy/gaud/internal/metrics"
	"github.com/gaud-proxy/gaud/internal/observability"
	"github.com/gaud-proxy/gaud/internal/pricing"
	"github.com/gaud-proxy/gaud/internal/provider"
	"github.com/gaud-proxy/gaud/internal/streaming"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/pkg/types"
)

// providerChunkParser adapts a provider.Provider's ParseStreamChunk method
// to the streaming.ChunkParser interface the forwarder expects.
type providerChunkParser struct{ p provider.Provider }

func (a providerChunkParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	return a.p.ParseStreamChunk(data)
}

// ChatCompletions implements POST /v1/chat/completions: parse and validate,
// authenticate (already done by the caller's middleware), try the cache,
// pre-check budget on a miss, dispatch to a provider, forward the response
// (streamed or not), then commit usage/budget/cache.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := observability.RequestIDFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, apierr.BadRequest("failed to read request body"))
		return
	}

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid JSON body"))
		return
	}
	if req.Model == "" {
		apierr.Write(w, apierr.BadRequest("model is required"))
		return
	}
	if len(req.Messages) == 0 {
		apierr.Write(w, apierr.BadRequest("messages must not be empty"))
		return
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}

	identity, _ := auth.GetIdentity(r.Context())

	var ctrl *cache.CacheControl
	if raw, ok := req.Extra["cache_control"]; ok {
		ctrl = cache.ParseCacheControl(raw)
	}

	// Cache lookup (step 3). A hit skips both the budget pre-check and the
	// post-commit below, since the cached bytes are the whole response.
	if h.cache != nil && !req.Stream {
		if result, err := h.cache.Lookup(r.Context(), &req, ctrl); err != nil {
			h.logger.Warn("cache lookup failed", "request_id", reqID, "error", err)
		} else if result != nil {
			metrics.RecordCacheLookup(cacheTier(result.Semantic), true)
			w.Header().Set("Content-Type", "application/json")
			w.Write(result.Response)
			return
		}
	}
	if h.cache != nil {
		metrics.RecordCacheLookup("exact", false)
	}

	// Budget pre-check (step 4), only reached on a cache miss.
	var warningHeader string
	if h.tracker != nil {
		result, err := h.tracker.CheckBudget(r.Context(), identity.UserID)
		if err != nil {
			apierr.Write(w, apierr.Internal("budget check failed"))
			return
		}
		switch result.Status {
		case budget.StatusExceeded:
			metrics.RecordBudgetRejection("monthly")
			apierr.Write(w, apierr.BudgetExceeded("budget exceeded"))
			return
		case budget.StatusWarning:
			warningHeader = warningHeaderValue(result.Percent)
		}
	}

	start := time.Now()
	if req.Stream {
		h.dispatchStream(w, r, reqID, &req, identity, warningHeader, start)
		return
	}
	h.dispatchNonStream(w, r, reqID, &req, ctrl, identity, warningHeader, start)
}

func (h *Handler) dispatchNonStream(w http.ResponseWriter, r *http.Request, reqID string, req *types.ChatRequest,
	ctrl *cache.CacheControl, identity auth.Identity, warningHeader string, start time.Time) {

	result, err := h.router.Dispatch(r.Context(), reqID, req, h.tokens)
	latency := time.Since(start)

	if err != nil {
		status := h.statusFor(err)
		metrics.RecordRequest(providerNameFromErr(err), req.Model, status, latency)
		h.recordUsage(r.Context(), identity.UserID, reqID, providerNameFromErr(err), req.Model, 0, 0, 0, latency, "error")
		apierr.Write(w, mapDispatchError(err))
		return
	}

	metrics.RecordRequest(result.Provider, req.Model, http.StatusOK, latency)

	usage := pricing.Usage{}
	if result.Response.Usage != nil {
		usage = pricing.Usage{
			InputTokens:  result.Response.Usage.PromptTokens,
			CachedTokens: result.Response.Usage.CachedTokens,
			OutputTokens: result.Response.Usage.CompletionTokens,
		}
		metrics.RecordTokens(result.Provider, req.Model, usage.InputTokens, usage.OutputTokens, usage.CachedTokens)
	}
	cost := h.pricing.Calculate(req.Model, result.Provider, usage)
	h.recordUsage(r.Context(), identity.UserID, reqID, result.Provider, req.Model, usage.InputTokens, usage.OutputTokens, cost, latency, "success")

	respBytes, err := json.Marshal(result.Response)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to encode response"))
		return
	}

	if h.cache != nil {
		if err := h.cache.Store(r.Context(), req, respBytes, ctrl); err != nil {
			h.logger.Warn("cache store failed", "request_id", reqID, "error", err)
		}
	}

	if warningHeader != "" {
		w.Header().Set("X-Budget-Warning", warningHeader)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}

func (h *Handler) dispatchStream(w http.ResponseWriter, r *http.Request, reqID string, req *types.ChatRequest,
	identity auth.Identity, warningHeader string, start time.Time) {

	streamResult, err := h.router.DispatchStream(r.Context(), reqID, req, h.tokens)
	if err != nil {
		status := h.statusFor(err)
		metrics.RecordRequest(providerNameFromErr(err), req.Model, status, time.Since(start))
		h.recordUsage(r.Context(), identity.UserID, reqID, providerNameFromErr(err), req.Model, 0, 0, 0, time.Since(start), "error")
		apierr.Write(w, mapDispatchError(err))
		return
	}

	if warningHeader != "" {
		w.Header().Set("X-Budget-Warning", warningHeader)
	}

	forwarder, err := streaming.NewForwarder(streaming.ForwarderConfig{
		Upstream:   streamResult.HTTPResponse.Body,
		Downstream: w,
		Parser:     providerChunkParser{p: streamResult.Provider},
		ClientCtx:  r.Context(),
	})
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to start stream"))
		return
	}

	forwardErr := forwarder.Forward()
	outcome := forwarder.Result()
	latency := time.Since(start)

	status := "success"
	if outcome.Aborted || errors.Is(forwardErr, context.Canceled) {
		status = "aborted"
	}

	usage := pricing.Usage{}
	if outcome.Usage != nil {
		usage = pricing.Usage{
			InputTokens:  outcome.Usage.PromptTokens,
			CachedTokens: outcome.Usage.CachedTokens,
			OutputTokens: outcome.Usage.CompletionTokens,
		}
		metrics.RecordTokens(streamResult.ProviderName, req.Model, usage.InputTokens, usage.OutputTokens, usage.CachedTokens)
	}
	cost := h.pricing.Calculate(req.Model, streamResult.ProviderName, usage)
	metrics.RecordRequest(streamResult.ProviderName, req.Model, http.StatusOK, latency)
	h.recordUsage(context.WithoutCancel(r.Context()), identity.UserID, reqID, streamResult.ProviderName, req.Model,
		usage.InputTokens, usage.OutputTokens, cost, latency, status)
}

func (h *Handler) recordUsage(ctx context.Context, userID, reqID, providerName, model string,
	inputTokens, outputTokens int, cost float64, latency time.Duration, status string) {

	if h.audit != nil {
		h.audit.Record(newUsageEntry(userID, reqID, providerName, model, inputTokens, outputTokens, cost, latency, status))
	}
	if h.tracker != nil && cost > 0 {
		if err := h.tracker.RecordUsage(ctx, userID, cost); err != nil {
			h.logger.Error("failed to commit budget usage", "user_id", userID, "error", err)
		}
	}
}

func (h *Handler) statusFor(err error) int {
	return mapDispatchError(err).StatusCode()
}

func providerNameFromErr(err error) string {
	var pe *llmerrors.ProviderError
	if errors.As(err, &pe) && pe.Provider != "" {
		return pe.Provider
	}
	return "unknown"
}

func cacheTier(semantic bool) string {
	if semantic {
		return "semantic"
	}
	return "exact"
}
