package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

const kiroRefreshURLTemplate = "https://prod.{region}.auth.desktop.kiro.dev/refreshToken"

func kiroRefreshURL(region string) string {
	return strings.ReplaceAll(kiroRefreshURLTemplate, "{region}", region)
}

// KiroConfig configures Kiro's proprietary refresh-token exchange. Kiro has
// no browser authorization step: a refresh token is obtained out of band
// (AWS SSO / Kiro Desktop login) and handed to the proxy directly.
type KiroConfig struct {
	Region      string
	Fingerprint string
	Client      *http.Client
}

// kiroFlow implements Flow for Kiro's refresh-only auth. AuthorizeURL and
// Exchange have no meaning here; only Refresh is used.
type kiroFlow struct {
	region      string
	fingerprint string
	client      *http.Client

	// baseURL overrides the computed refresh URL in tests; empty in production.
	baseURL string
}

// NewKiroFlow builds a kiro Flow from cfg.
func NewKiroFlow(cfg KiroConfig) Flow {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &kiroFlow{region: region, fingerprint: cfg.Fingerprint, client: client}
}

func (f *kiroFlow) Name() string { return "kiro" }

func (f *kiroFlow) AuthorizeURL(state string) (string, string, error) {
	return "", "", fmt.Errorf("oauth: kiro has no browser flow; provide a refresh token directly")
}

func (f *kiroFlow) Exchange(ctx context.Context, code, verifier string) (*tokenstore.Info, error) {
	return nil, fmt.Errorf("oauth: kiro has no authorization code exchange; provide a refresh token directly")
}

type kiroRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type kiroRefreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// Refresh exchanges a Kiro Desktop refresh token for a fresh access token.
func (f *kiroFlow) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Info, error) {
	url := f.baseURL
	if url == "" {
		url = kiroRefreshURL(f.region)
	}
	body, err := json.Marshal(kiroRefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("oauth: kiro refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oauth: kiro refresh request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("user-agent", fmt.Sprintf("KiroIDE-0.7.45-%s", f.fingerprint))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: kiro refresh: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oauth: kiro token refresh failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var data kiroRefreshResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("oauth: kiro refresh response: %w", err)
	}
	if data.ExpiresIn == 0 {
		data.ExpiresIn = 3600
	}

	return tokenstore.New(data.AccessToken, refreshToken, time.Duration(data.ExpiresIn)*time.Second, "kiro"), nil
}
