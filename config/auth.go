package config

import "strings"

// AuthConfig controls how the HTTP layer identifies the caller that owns a job.
type AuthConfig struct {
	// OIDC bearer token verification. An empty issuer disables it.
	OIDC OIDCConfig `envPrefix:"AUTH_OIDC_"`

	// TrustUserHeader accepts X-User-ID as the owner when no bearer token is sent.
	// Meant for deployments behind a gateway that authenticates callers.
	TrustUserHeader bool `env:"AUTH_TRUST_USER_HEADER" envDefault:"false"`
}

// OIDCConfig contains OIDC verifier configuration.
type OIDCConfig struct {
	// Issuer is the issuer URL or its discovery document URL.
	Issuer   string `env:"ISSUER"`
	Audience string `env:"AUDIENCE"`
}

// Enabled reports whether bearer tokens are verified.
func (c OIDCConfig) Enabled() bool {
	return strings.TrimSpace(c.Issuer) != ""
}
