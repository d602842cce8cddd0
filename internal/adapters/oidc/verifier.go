package oidc

// Package oidc verifies OIDC bearer tokens presented to the API.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/target/docflow/internal/domain/auth"
	"github.com/target/docflow/internal/ports"
)

// ErrMissingSubject is returned when a valid token carries no usable user id.
var ErrMissingSubject = errors.New("token has no subject")

// VerifierConfig holds configuration for the bearer token verifier.
type VerifierConfig struct {
	// Issuer is the issuer URL or its discovery document URL.
	Issuer string
	// Audience is the expected "aud" claim. Empty skips the audience check.
	Audience   string
	HTTPClient *http.Client // Optional, defaults to a 30s client
}

// Verifier implements ports.TokenVerifier using go-oidc.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

var _ ports.TokenVerifier = (*Verifier)(nil)

// NewVerifier fetches the issuer's discovery document once and builds a verifier backed by
// its remote key set.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	op, err := gooidc.NewProvider(ctx, issuerFromDiscoveryURL(cfg.Issuer))
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	return &Verifier{verifier: op.Verifier(verifierConfig(cfg.Audience))}, nil
}

// NewStaticVerifier builds a verifier from an explicit key set, skipping discovery.
func NewStaticVerifier(issuer, audience string, keys gooidc.KeySet) *Verifier {
	return &Verifier{verifier: gooidc.NewVerifier(issuer, keys, verifierConfig(audience))}
}

func verifierConfig(audience string) *gooidc.Config {
	return &gooidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
}

func issuerFromDiscoveryURL(u string) string {
	issuer := strings.TrimSuffix(u, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	return strings.TrimSuffix(issuer, ".well-known/openid-configuration")
}

// Verify checks signature, issuer, audience and expiry, then maps the claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (domainauth.Identity, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("verify token: %w", err)
	}
	var claims tokenClaims
	if err := tok.Claims(&claims); err != nil {
		return domainauth.Identity{}, fmt.Errorf("parse token claims: %w", err)
	}
	id := mapClaims(claims)
	if id.UserID == "" {
		id.UserID = tok.Subject
	}
	if id.UserID == "" {
		return domainauth.Identity{}, ErrMissingSubject
	}
	id.ExpiresAt = tok.Expiry
	return id, nil
}

// tokenClaims represents a superset of OIDC and AD/ADFS claim shapes.
type tokenClaims struct {
	Sub               string   `json:"sub"`
	SamAccountName    string   `json:"samaccountname"`
	PreferredUsername string   `json:"preferred_username"`
	Mail              string   `json:"mail"`
	Email             string   `json:"email"`
	MemberOf          []string `json:"memberof"`
	Groups            []string `json:"groups"`
}

// mapClaims maps raw claims into an identity using precedence rules.
func mapClaims(c tokenClaims) domainauth.Identity {
	groups := c.MemberOf
	if len(groups) == 0 {
		groups = c.Groups
	}
	return domainauth.Identity{
		UserID: firstNonEmpty(c.SamAccountName, c.PreferredUsername, c.Sub),
		Email:  firstNonEmpty(c.Mail, c.Email),
		Groups: groups,
	}
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
