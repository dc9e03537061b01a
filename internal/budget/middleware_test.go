package budget

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gaud-proxy/gaud/internal/auth"
)

func withUser(r *http.Request, userID string) *http.Request {
	ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: userID, Role: auth.RoleUser})
	return r.WithContext(ctx)
}

func TestMiddleware_Disabled_PassesThrough(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	tr.SetBudget(context.Background(), "user1", floatPtr(1), floatPtr(1))
	tr.RecordUsage(context.Background(), "user1", 5)

	mw := NewMiddleware(tr, nil, false)
	called := false
	h := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil), "user1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Error("disabled middleware should always call next")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestMiddleware_NoIdentity_PassesThrough(t *testing.T) {
	mw := NewMiddleware(NewTracker(NewMemoryStore(), 80), nil, true)
	called := false
	h := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Error("a request with no identity should pass through")
	}
}

func TestMiddleware_Exceeded_Returns429(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()
	tr.SetBudget(ctx, "user1", floatPtr(10), floatPtr(1000))
	tr.RecordUsage(ctx, "user1", 10)

	mw := NewMiddleware(tr, nil, true)
	called := false
	h := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil), "user1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if called {
		t.Error("an exceeded budget should not reach the handler")
	}
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rr.Code)
	}
}

func TestMiddleware_Warning_SetsHeader(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()
	tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(1000))
	tr.RecordUsage(ctx, "user1", 85)

	mw := NewMiddleware(tr, nil, true)
	h := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil), "user1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("X-Budget-Warning") == "" {
		t.Error("expected X-Budget-Warning header to be set")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestMiddleware_Ok_NoWarningHeader(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()
	tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(1000))

	mw := NewMiddleware(tr, nil, true)
	h := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil), "user1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("X-Budget-Warning") != "" {
		t.Error("expected no X-Budget-Warning header when under threshold")
	}
}
