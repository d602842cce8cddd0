package httpx

import "context"

// ownerKey is an unexported context key type to avoid collisions across packages.
type ownerKey struct{}

// WithOwner returns a child context that carries the caller's owner id. An empty owner
// returns ctx unchanged.
func WithOwner(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner id resolved by the identity middleware, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
