// Package auth authenticates proxy clients by API key and attaches their
// identity to the request context for downstream budget and routing
// decisions.
package auth

import "time"

// Role is the access level attached to a verified identity.
type Role string

const (
	// RoleUser can call the chat/completions surface for its own budget.
	RoleUser Role = "user"
	// RoleAdmin can additionally call management routes.
	RoleAdmin Role = "admin"
)

// APIKeyRecord is a stored, hashed API key and the identity it grants.
type APIKeyRecord struct {
	ID        string
	UserID    string
	Role      Role
	KeyHash   string // sha256(key) hex, used as the lookup index
	ArgonHash string // argon2id(sha256(key)) at rest, verified constant-time
	KeyPrefix string
	CreatedAt time.Time
	Revoked   bool
}

// Identity is the (user_id, role) pair attached to an authenticated
// request's context.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity may call admin-only routes.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// adminIdentity is attached to every request when auth.enabled=false.
var adminIdentity = Identity{UserID: "local-admin", Role: RoleAdmin}
