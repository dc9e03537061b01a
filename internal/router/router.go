// Package router selects an upstream provider for a chat request and
// drives the actual dispatch: build the vendor request, execute it,
// classify failures against the per-provider circuit breaker, and fall
// back to the next candidate when the failure is retryable.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/gaud-proxy/gaud/internal/provider"
	"github.com/gaud-proxy/gaud/internal/resilience"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/pkg/types"
)

// Strategy selects how candidates are ordered before dispatch.
type Strategy string

const (
	// StrategyPriority keeps the registry's registration order.
	StrategyPriority Strategy = "priority"
	// StrategyRoundRobin rotates a per-process cursor across candidates.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastUsed sorts candidates by ascending total request count.
	StrategyLeastUsed Strategy = "least_used"
	// StrategyRandom applies a Fisher-Yates shuffle.
	StrategyRandom Strategy = "random"
)

const (
	maxRetriesTotal   = 3
	completedTokenTTL = 10 * time.Minute
)

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// ErrAlreadyCompleted is returned when Dispatch/DispatchStream is called
// twice for the same request id after the first call already produced a
// successful upstream completion.
var ErrAlreadyCompleted = errors.New("router: request already completed")

// ErrNoCandidates is returned when no provider advertises the model.
var ErrNoCandidates = errors.New("router: no provider registered for model")

// TokenSource resolves the OAuth access token for a provider and can force
// a refresh when the upstream rejects the cached one.
type TokenSource interface {
	AccessToken(ctx context.Context, provider string) (string, error)
	ForceRefresh(ctx context.Context, provider string) (string, error)
}

// Result is the outcome of a successful non-streaming dispatch.
type Result struct {
	Response *types.ChatResponse
	Provider string
	Model    string
}

// StreamResult is the outcome of a successful streaming dispatch: the raw
// upstream HTTP response body is handed to the caller (the streaming
// forwarder) to decode and splice to the client.
type StreamResult struct {
	HTTPResponse *http.Response
	Provider     provider.Provider
	ProviderName string
	Model        string
}

// Router orders candidates for a model and dispatches the request,
// applying retries, backoff, and circuit-breaker gating along the way.
type Router struct {
	registry *provider.Registry
	breakers *resilience.Manager
	client   *http.Client
	strategy Strategy

	rrCursor uint64
	countsMu sync.Mutex
	counts   map[string]int64

	completed *gocache.Cache
}

// New creates a Router bound to a provider registry and breaker manager.
func New(registry *provider.Registry, breakers *resilience.Manager, strategy Strategy) *Router {
	if strategy == "" {
		strategy = StrategyPriority
	}
	return &Router{
		registry:  registry,
		breakers:  breakers,
		client:    &http.Client{},
		strategy:  strategy,
		counts:    make(map[string]int64),
		completed: gocache.New(completedTokenTTL, completedTokenTTL/2),
	}
}

// candidates returns the eligible provider names for model, ordered by the
// configured strategy with Open-breaker candidates dropped.
func (r *Router) candidates(model string) []string {
	names := r.registry.CandidatesForModel(model)
	if len(names) == 0 {
		return nil
	}

	ordered := r.order(names)

	out := make([]string, 0, len(ordered))
	for _, name := range ordered {
		if r.breakers.GetCircuitBreaker(name).State() != resilience.StateOpen {
			out = append(out, name)
		}
	}
	return out
}

func (r *Router) order(names []string) []string {
	switch r.strategy {
	case StrategyRoundRobin:
		cursor := atomic.AddUint64(&r.rrCursor, 1) - 1
		n := len(names)
		out := make([]string, n)
		for i := 0; i < n; i++ {
			out[i] = names[(int(cursor)+i)%n]
		}
		return out

	case StrategyLeastUsed:
		out := make([]string, len(names))
		copy(out, names)
		r.countsMu.Lock()
		counts := make(map[string]int64, len(out))
		for _, n := range out {
			counts[n] = r.counts[n]
		}
		r.countsMu.Unlock()
		sort.SliceStable(out, func(i, j int) bool {
			return counts[out[i]] < counts[out[j]]
		})
		return out

	case StrategyRandom:
		out := make([]string, len(names))
		copy(out, names)
		for i := len(out) - 1; i > 0; i-- {
			j := rand.Intn(i + 1)
			out[i], out[j] = out[j], out[i]
		}
		return out

	default: // StrategyPriority
		out := make([]string, len(names))
		copy(out, names)
		return out
	}
}

func (r *Router) bumpCount(name string) {
	r.countsMu.Lock()
	r.counts[name]++
	r.countsMu.Unlock()
}

func (r *Router) checkNotCompleted(reqID string) error {
	if reqID == "" {
		return nil
	}
	if _, found := r.completed.Get(reqID); found {
		return ErrAlreadyCompleted
	}
	return nil
}

func (r *Router) markCompleted(reqID string) {
	if reqID != "" {
		r.completed.Set(reqID, struct{}{}, gocache.DefaultExpiration)
	}
}

// Dispatch performs the non-streaming request/fallback loop: iterate
// ordered, breaker-eligible candidates; on Authentication error
// force a token refresh and retry the same candidate once; on any other
// retryable ProviderError move to the next candidate after exponential
// backoff, up to three retries total across candidates.
func (r *Router) Dispatch(ctx context.Context, reqID string, req *types.ChatRequest, tokens TokenSource) (*Result, error) {
	if err := r.checkNotCompleted(reqID); err != nil {
		return nil, err
	}

	names := r.candidates(req.Model)
	if len(names) == 0 {
		return nil, ErrNoCandidates
	}

	var errs []error
	retries := 0

	for i := 0; i < len(names); i++ {
		name := names[i]

		if i > 0 && retries > 0 {
			// retries counts the failures so far; the first retry waits
			// backoffSchedule[0].
			if err := sleepBackoff(ctx, retries-1); err != nil {
				return nil, err
			}
		}

		p, ok := r.registry.GetProvider(name)
		if !ok {
			continue
		}

		cb := r.breakers.GetCircuitBreaker(name)
		if err := cb.Allow(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			retries++
			if retries > maxRetriesTotal {
				break
			}
			continue
		}

		r.bumpCount(name)

		resp, err := r.attempt(ctx, p, name, req, tokens, true)
		if err == nil {
			cb.RecordSuccess()
			r.markCompleted(reqID)
			return &Result{Response: resp, Provider: name, Model: req.Model}, nil
		}

		if llmerrors.IsBreakerFailure(err) {
			cb.RecordFailure()
		} else {
			cb.RecordNonBreakerOutcome()
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))

		var pe *llmerrors.ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			// Non-retryable, non-auth errors (invalid request, response
			// parsing) never fall back to another candidate.
			return nil, err
		}

		retries++
		if retries > maxRetriesTotal {
			break
		}
	}

	return nil, llmerrors.NewAllFailedError(req.Model, errs)
}

// attempt executes a single candidate call, retrying once on an
// Authentication error after forcing a token refresh.
func (r *Router) attempt(ctx context.Context, p provider.Provider, name string, req *types.ChatRequest, tokens TokenSource, allowAuthRetry bool) (*types.ChatResponse, error) {
	token, err := tokens.AccessToken(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve token for %s: %w", name, err)
	}

	httpReq, err := p.BuildRequest(ctx, req, token)
	if err != nil {
		return nil, llmerrors.NewInvalidRequestError(name, req.Model, err.Error())
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, llmerrors.NewTimeoutError(name, req.Model, err.Error(), 0)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(httpResp.Body)
		provErr := p.MapError(httpResp.StatusCode, body)

		var pe *llmerrors.ProviderError
		if allowAuthRetry && errors.As(provErr, &pe) && pe.Kind == llmerrors.KindAuthentication {
			if _, refreshErr := tokens.ForceRefresh(ctx, name); refreshErr == nil {
				return r.attempt(ctx, p, name, req, tokens, false)
			}
		}
		return nil, provErr
	}

	return p.ParseResponse(httpResp)
}

// DispatchStream picks the first live candidate and returns the raw
// upstream response for the streaming forwarder to splice. Once a byte
// has reached the client, streams cannot be spliced across candidates, so
// there is no fallback here: a mid-stream failure surfaces to the caller
// as-is.
func (r *Router) DispatchStream(ctx context.Context, reqID string, req *types.ChatRequest, tokens TokenSource) (*StreamResult, error) {
	if err := r.checkNotCompleted(reqID); err != nil {
		return nil, err
	}

	names := r.candidates(req.Model)
	if len(names) == 0 {
		return nil, ErrNoCandidates
	}

	name := names[0]
	p, ok := r.registry.GetProvider(name)
	if !ok {
		return nil, ErrNoCandidates
	}

	cb := r.breakers.GetCircuitBreaker(name)
	if err := cb.Allow(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	token, err := tokens.AccessToken(ctx, name)
	if err != nil {
		cb.RecordFailure()
		return nil, fmt.Errorf("resolve token for %s: %w", name, err)
	}

	httpReq, err := p.BuildRequest(ctx, req, token)
	if err != nil {
		cb.RecordFailure()
		return nil, llmerrors.NewInvalidRequestError(name, req.Model, err.Error())
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		cb.RecordFailure()
		return nil, llmerrors.NewTimeoutError(name, req.Model, err.Error(), 0)
	}

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		provErr := p.MapError(httpResp.StatusCode, body)
		if llmerrors.IsBreakerFailure(provErr) {
			cb.RecordFailure()
		} else {
			cb.RecordNonBreakerOutcome()
		}
		return nil, provErr
	}

	r.bumpCount(name)
	r.markCompleted(reqID)
	cb.RecordSuccess()

	return &StreamResult{HTTPResponse: httpResp, Provider: p, ProviderName: name, Model: req.Model}, nil
}

func sleepBackoff(ctx context.Context, retryIndex int) error {
	if retryIndex >= len(backoffSchedule) {
		retryIndex = len(backoffSchedule) - 1
	}
	d := backoffSchedule[retryIndex]
	// exponential backoff with jitter capped at 20% of the base delay.
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
