package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gaud-proxy/gaud/internal/provider"
	"github.com/gaud-proxy/gaud/internal/resilience"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/pkg/types"
)

type fakeProvider struct {
	name    string
	models  []string
	baseURL string
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) SupportedModels() []string   { return f.models }
func (f *fakeProvider) SupportsModel(m string) bool {
	for _, mm := range f.models {
		if mm == m {
			return true
		}
	}
	return false
}

func (f *fakeProvider) BuildRequest(ctx context.Context, req *types.ChatRequest, token string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/chat", nil)
}

func (f *fakeProvider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	return &types.ChatResponse{ID: "resp-" + f.name}, nil
}

func (f *fakeProvider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) { return nil, nil }

func (f *fakeProvider) MapError(statusCode int, body []byte) error {
	return llmerrors.FromStatusCode(f.name, "", statusCode, string(body))
}

type fakeTokens struct {
	refreshCalls int32
}

func (f *fakeTokens) AccessToken(ctx context.Context, provider string) (string, error) {
	return "tok-" + provider, nil
}

func (f *fakeTokens) ForceRefresh(ctx context.Context, provider string) (string, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	return "tok-refreshed-" + provider, nil
}

func newTestRouter(t *testing.T, strategy Strategy, servers map[string]*httptest.Server) (*Router, *provider.Registry, *resilience.Manager) {
	t.Helper()
	reg := provider.NewRegistry()
	breakers := resilience.NewManager(resilience.DefaultManagerConfig())

	for name, srv := range servers {
		p := &fakeProvider{name: name, models: []string{"generic-model"}, baseURL: srv.URL}
		reg.RegisterFactory(name, func(cfg provider.Config) (provider.Provider, error) { return p, nil })
		if _, err := reg.CreateProvider(provider.Config{Name: name, Type: name}); err != nil {
			t.Fatalf("CreateProvider(%s) error = %v", name, err)
		}
	}

	return New(reg, breakers, strategy), reg, breakers
}

func TestDispatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, _, _ := newTestRouter(t, StrategyPriority, map[string]*httptest.Server{"claude": srv})

	res, err := r.Dispatch(context.Background(), "req-1", &types.ChatRequest{Model: "generic-model"}, &fakeTokens{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Provider != "claude" {
		t.Errorf("Provider = %s, want claude", res.Provider)
	}
}

func TestDispatch_AlreadyCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, _, _ := newTestRouter(t, StrategyPriority, map[string]*httptest.Server{"claude": srv})
	ctx := context.Background()

	if _, err := r.Dispatch(ctx, "req-dup", &types.ChatRequest{Model: "generic-model"}, &fakeTokens{}); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	if _, err := r.Dispatch(ctx, "req-dup", &types.ChatRequest{Model: "generic-model"}, &fakeTokens{}); err != ErrAlreadyCompleted {
		t.Errorf("second Dispatch() error = %v, want ErrAlreadyCompleted", err)
	}
}

func TestDispatch_NoCandidates(t *testing.T) {
	r, _, _ := newTestRouter(t, StrategyPriority, nil)
	if _, err := r.Dispatch(context.Background(), "", &types.ChatRequest{Model: "unknown-model"}, &fakeTokens{}); err != ErrNoCandidates {
		t.Errorf("Dispatch() error = %v, want ErrNoCandidates", err)
	}
}

func TestDispatch_FallsBackOnServerError(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	reg := provider.NewRegistry()
	breakers := resilience.NewManager(resilience.DefaultManagerConfig())

	pFail := &fakeProvider{name: "kiro", models: []string{"generic-model"}, baseURL: failing.URL}
	pOK := &fakeProvider{name: "claude", models: []string{"generic-model"}, baseURL: healthy.URL}

	reg.RegisterFactory("kiro", func(cfg provider.Config) (provider.Provider, error) { return pFail, nil })
	reg.RegisterFactory("claude", func(cfg provider.Config) (provider.Provider, error) { return pOK, nil })
	if _, err := reg.CreateProvider(provider.Config{Name: "kiro", Type: "kiro"}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateProvider(provider.Config{Name: "claude", Type: "claude"}); err != nil {
		t.Fatal(err)
	}

	r := New(reg, breakers, StrategyPriority)
	res, err := r.Dispatch(context.Background(), "", &types.ChatRequest{Model: "generic-model"}, &fakeTokens{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Provider != "claude" {
		t.Errorf("Provider = %s, want claude (fallback candidate)", res.Provider)
	}

	if breakers.GetCircuitBreaker("kiro").State() != resilience.StateClosed {
		t.Error("single failure should not open the breaker (threshold is 3)")
	}
}

func TestDispatch_BreakerOpensAfterThreeFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	r, _, breakers := newTestRouter(t, StrategyPriority, map[string]*httptest.Server{"claude": failing})

	for i := 0; i < 4; i++ {
		r.Dispatch(context.Background(), "", &types.ChatRequest{Model: "generic-model"}, &fakeTokens{})
	}

	if breakers.GetCircuitBreaker("claude").State() != resilience.StateOpen {
		t.Error("expected breaker to be open after repeated failures")
	}
}

func TestDispatch_AuthErrorForcesRefreshAndRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	r, _, _ := newTestRouter(t, StrategyPriority, map[string]*httptest.Server{"claude": srv})

	res, err := r.Dispatch(context.Background(), "", &types.ChatRequest{Model: "generic-model"}, tokens)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res == nil {
		t.Fatal("expected a result after token refresh retry")
	}
	if atomic.LoadInt32(&tokens.refreshCalls) != 1 {
		t.Errorf("refreshCalls = %d, want 1", tokens.refreshCalls)
	}
}

func TestOrder_RoundRobinRotatesCursor(t *testing.T) {
	r := New(provider.NewRegistry(), resilience.NewManager(resilience.DefaultManagerConfig()), StrategyRoundRobin)
	names := []string{"a", "b", "c"}

	first := r.order(names)
	second := r.order(names)

	if first[0] == second[0] {
		t.Error("expected round robin to rotate the leading candidate")
	}
}

func TestOrder_LeastUsedSortsAscending(t *testing.T) {
	r := New(provider.NewRegistry(), resilience.NewManager(resilience.DefaultManagerConfig()), StrategyLeastUsed)
	r.bumpCount("a")
	r.bumpCount("a")
	r.bumpCount("b")

	ordered := r.order([]string{"a", "b", "c"})
	if ordered[0] != "c" {
		t.Errorf("ordered[0] = %s, want c (zero uses)", ordered[0])
	}
}

func TestCandidates_DropsOpenBreaker(t *testing.T) {
	reg := provider.NewRegistry()
	breakers := resilience.NewManager(resilience.DefaultManagerConfig())

	p := &fakeProvider{name: "claude", models: []string{"generic-model"}}
	reg.RegisterFactory("claude", func(cfg provider.Config) (provider.Provider, error) { return p, nil })
	reg.CreateProvider(provider.Config{Name: "claude", Type: "claude"})

	cb := breakers.GetCircuitBreaker("claude")
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()

	r := New(reg, breakers, StrategyPriority)
	if got := r.candidates("generic-model"); len(got) != 0 {
		t.Errorf("candidates() = %v, want empty (breaker open)", got)
	}
}

func TestSleepBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if err := sleepBackoff(ctx, 3); err == nil {
		t.Error("expected context deadline error")
	}
}
