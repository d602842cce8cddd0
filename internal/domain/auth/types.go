package auth

// Package auth contains domain-level types for caller identity.
// It is pure and free of framework/adapter concerns.

import "time"

// Identity represents the authenticated principal behind a bearer token.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID    string // stable user identifier (e.g., samAccountName or sub)
	Email     string
	Groups    []string
	ExpiresAt time.Time // absolute expiry from the token
}

// Expired reports whether the identity is past its expiry at now. A zero expiry never expires.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}
