package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the JWT claim set for an admin session token. Sessions
// are short-lived and re-issued via POST /admin/sessions from a still-valid
// API key; they exist so an admin UI can hold a bearer token that expires
// on its own instead of a permanent API key.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// SessionIssuer signs and verifies admin session tokens with a single
// shared HMAC secret. Rotate the secret to invalidate every outstanding
// session at once.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewSessionIssuer creates a SessionIssuer. secret must be non-empty;
// callers resolve it through internal/secret the same way provider API
// keys are, so it can live in env:// or vault:// instead of the config
// file.
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, issuer: "gaud"}
}

// Issue signs a session token for the given identity.
func (s *SessionIssuer) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: id.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a session token, returning the Identity it
// carries.
func (s *SessionIssuer) Verify(raw string) (Identity, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return Identity{}, fmt.Errorf("auth: invalid session token: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid session token")
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// looksLikeJWT reports whether s has the three dot-separated segments of a
// compact JWT, distinguishing a session token from a raw API key (which is
// an opaque prefixed string with no internal structure).
func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}
