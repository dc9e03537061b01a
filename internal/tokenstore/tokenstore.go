// Package tokenstore persists OAuth access/refresh tokens for the upstream
// providers the router dispatches to. It is distinct from internal/auth's
// API-key store: that package authenticates proxy clients, this one holds
// the credentials the proxy itself presents to Claude, Gemini, Copilot, and
// Kiro.
package tokenstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// expirySafetyMargin is how far ahead of the real expiry a token is
	// already considered expired, to absorb clock skew and request latency.
	expirySafetyMargin = 60 * time.Second
	// refreshBuffer is how far ahead of expiry a token should be
	// proactively refreshed.
	refreshBuffer = 300 * time.Second
)

// Info is an OAuth token for one provider.
type Info struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	TokenType    string
	Provider     string
}

// New builds an Info with an expiry computed expiresIn from now.
func New(accessToken, refreshToken string, expiresIn time.Duration, provider string) *Info {
	var exp *time.Time
	if expiresIn > 0 {
		t := time.Now().Add(expiresIn)
		exp = &t
	}
	return &Info{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
		TokenType:    "Bearer",
		Provider:     provider,
	}
}

// IsExpired reports whether the token has expired or will within the
// safety margin. A token with no expiry never expires.
func (i *Info) IsExpired() bool {
	if i.ExpiresAt == nil {
		return false
	}
	return !i.ExpiresAt.After(time.Now().Add(expirySafetyMargin))
}

// NeedsRefresh reports whether the token should be proactively refreshed.
func (i *Info) NeedsRefresh() bool {
	if i.ExpiresAt == nil {
		return false
	}
	return !i.ExpiresAt.After(time.Now().Add(refreshBuffer))
}

// TimeUntilExpiry returns the remaining lifetime, or zero if expired or
// unset.
func (i *Info) TimeUntilExpiry() time.Duration {
	if i.ExpiresAt == nil {
		return 0
	}
	if d := time.Until(*i.ExpiresAt); d > 0 {
		return d
	}
	return 0
}

// Store persists tokens keyed by provider name.
type Store interface {
	Load(ctx context.Context, provider string) (*Info, error)
	Save(ctx context.Context, provider string, tok *Info) error
	Remove(ctx context.Context, provider string) error
	Exists(ctx context.Context, provider string) (bool, error)
	Name() string
}

// compositeSeparator delimits the base refresh token from embedded project
// identifiers. Backends store this string opaquely; only the callers that
// need project discovery (Gemini's flow) interpret it.
const compositeSeparator = "|"

// ErrDecodeError is returned when a composite refresh token cannot be
// parsed. Callers should treat this as forcing re-authentication.
var ErrDecodeError = errors.New("tokenstore: corrupted composite refresh token")

// ParseRefreshParts splits a possibly-composite refresh token into its base
// token, project ID, and managed project ID. A plain (non-composite) refresh
// token round-trips as (token, "", "").
func ParseRefreshParts(refreshToken string) (base, projectID, managedProjectID string, err error) {
	if refreshToken == "" {
		return "", "", "", nil
	}
	parts := strings.Split(refreshToken, compositeSeparator)
	switch len(parts) {
	case 1:
		return parts[0], "", "", nil
	case 2:
		return parts[0], parts[1], "", nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", ErrDecodeError
	}
}

// BaseRefreshToken returns just the refresh token, stripped of any embedded
// project identifiers.
func BaseRefreshToken(refreshToken string) (string, error) {
	base, _, _, err := ParseRefreshParts(refreshToken)
	return base, err
}

// WithProjectIDs encodes projectID (and optionally managedProjectID) into
// refreshToken's composite form, replacing any identifiers already present.
func WithProjectIDs(refreshToken, projectID, managedProjectID string) (string, error) {
	base, _, _, err := ParseRefreshParts(refreshToken)
	if err != nil {
		return "", err
	}
	if projectID == "" {
		return base, nil
	}
	if managedProjectID == "" {
		return base + compositeSeparator + projectID, nil
	}
	return base + compositeSeparator + projectID + compositeSeparator + managedProjectID, nil
}

// ProjectID extracts the embedded project ID from a composite refresh
// token, if any.
func (i *Info) ProjectID() (string, error) {
	_, projectID, _, err := ParseRefreshParts(i.RefreshToken)
	return projectID, err
}

// ManagedProjectID extracts the embedded managed project ID from a
// composite refresh token, if any.
func (i *Info) ManagedProjectID() (string, error) {
	_, _, managedProjectID, err := ParseRefreshParts(i.RefreshToken)
	return managedProjectID, err
}
