package auth

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// identityContextKey is the context key for Identity.
const identityContextKey contextKey = "identity"

// WithIdentity stores an Identity on the provided context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey, id)
}

// GetIdentity retrieves the Identity attached to the request context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
