package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"

	domainauth "github.com/target/docflow/internal/domain/auth"
	"github.com/target/docflow/internal/ports"
)

// ErrUnknownToken is returned by StaticVerifier for tokens it was not seeded with.
var ErrUnknownToken = errors.New("unknown token")

// Ensure compile-time conformance to ports.
var _ ports.TokenVerifier = (*StaticVerifier)(nil)

// StaticVerifier maps fixed token strings to identities.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]domainauth.Identity

	// VerifyFunc overrides the lookup when set.
	VerifyFunc func(ctx context.Context, raw string) (domainauth.Identity, error)
}

// NewStaticVerifier creates a verifier seeded with token -> identity pairs.
func NewStaticVerifier(tokens map[string]domainauth.Identity) *StaticVerifier {
	v := &StaticVerifier{tokens: make(map[string]domainauth.Identity, len(tokens))}
	for k, id := range tokens {
		v.tokens[k] = id
	}
	return v
}

// Add registers another token.
func (v *StaticVerifier) Add(token string, id domainauth.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tokens == nil {
		v.tokens = make(map[string]domainauth.Identity)
	}
	v.tokens[token] = id
}

func (v *StaticVerifier) Verify(ctx context.Context, raw string) (domainauth.Identity, error) {
	if v.VerifyFunc != nil {
		return v.VerifyFunc(ctx, raw)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.tokens[raw]
	if !ok {
		return domainauth.Identity{}, ErrUnknownToken
	}
	return id, nil
}
