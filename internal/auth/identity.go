package auth

import "context"

// Identity is the caller resolved from a bearer token for one request.
type Identity struct {
	UserID int64
	Email  string
	Token  string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the resolved identity, or nil for anonymous requests.
func IdentityFromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return nil
	}

	return &id
}
