package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKiroFlow_Refresh(t *testing.T) {
	var gotBody kiroRefreshRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("content-type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("content-type"))
		}
		if !strings.Contains(r.Header.Get("user-agent"), "KiroIDE-") {
			t.Errorf("user-agent = %q, want KiroIDE- prefix", r.Header.Get("user-agent"))
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(kiroRefreshResponse{
			AccessToken: "at-refreshed",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	f := &kiroFlow{region: "us-east-1", fingerprint: "fp-1", client: srv.Client(), baseURL: srv.URL}

	info, err := f.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if info.AccessToken != "at-refreshed" {
		t.Fatalf("access token = %q, want at-refreshed", info.AccessToken)
	}
	if info.RefreshToken != "rt-1" {
		t.Fatalf("refresh token = %q, want carried-over rt-1", info.RefreshToken)
	}
	if gotBody.RefreshToken != "rt-1" {
		t.Fatalf("request body refreshToken = %q, want rt-1", gotBody.RefreshToken)
	}
}

func TestKiroFlow_AuthorizeURLUnsupported(t *testing.T) {
	f := NewKiroFlow(KiroConfig{})
	if _, _, err := f.AuthorizeURL("state"); err == nil {
		t.Fatal("expected AuthorizeURL to error: kiro has no browser flow")
	}
}

func TestKiroFlow_ExchangeUnsupported(t *testing.T) {
	f := NewKiroFlow(KiroConfig{})
	if _, err := f.Exchange(context.Background(), "code", "verifier"); err == nil {
		t.Fatal("expected Exchange to error: kiro has no code exchange")
	}
}

func TestKiroFlow_Name(t *testing.T) {
	f := NewKiroFlow(KiroConfig{})
	if f.Name() != "kiro" {
		t.Fatalf("Name() = %q, want kiro", f.Name())
	}
}

func TestKiroFlow_RefreshHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid refresh token"))
	}))
	defer srv.Close()

	f := &kiroFlow{region: "us-east-1", fingerprint: "fp-1", client: srv.Client(), baseURL: srv.URL}
	if _, err := f.Refresh(context.Background(), "rt-bad"); err == nil {
		t.Fatal("expected error on non-2xx refresh response")
	}
}
