package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; the HTTP layer consumes them.

import (
	"context"

	domainauth "github.com/target/docflow/internal/domain/auth"
)

// TokenVerifier validates a raw bearer token and returns the identity it carries.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (domainauth.Identity, error)
}
