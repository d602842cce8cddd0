package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://idp.example.com"

// payloadKeySet accepts any signature and returns the token payload.
type payloadKeySet struct{ err error }

func (k payloadKeySet) VerifySignature(_ context.Context, jwt string) ([]byte, error) {
	if k.err != nil {
		return nil, k.err
	}
	parts := strings.Split(jwt, ".")
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	return enc(map[string]string{"alg": "RS256", "typ": "JWT"}) + "." + enc(claims) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("signature"))
}

func baseClaims() map[string]any {
	return map[string]any{
		"iss": testIssuer,
		"aud": "docflow",
		"sub": "00u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerify_MapsClaims(t *testing.T) {
	tests := []struct {
		name   string
		extra  map[string]any
		user   string
		email  string
		groups []string
	}{
		{name: "subject only", user: "00u1"},
		{
			name:  "preferred username and email",
			extra: map[string]any{"preferred_username": "alice", "email": "alice@example.com", "groups": []string{"ops"}},
			user:  "alice", email: "alice@example.com", groups: []string{"ops"},
		},
		{
			name: "ad claims win",
			extra: map[string]any{
				"samaccountname": "z001abc", "preferred_username": "alice",
				"mail": "a@corp", "email": "alice@example.com", "memberof": []string{"CN=admins"},
			},
			user: "z001abc", email: "a@corp", groups: []string{"CN=admins"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims()
			for k, v := range tt.extra {
				claims[k] = v
			}
			v := NewStaticVerifier(testIssuer, "docflow", payloadKeySet{})

			id, err := v.Verify(context.Background(), makeToken(t, claims))
			require.NoError(t, err)
			assert.Equal(t, tt.user, id.UserID)
			assert.Equal(t, tt.email, id.Email)
			assert.Equal(t, tt.groups, id.Groups)
			assert.False(t, id.ExpiresAt.IsZero())
		})
	}
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		keys   payloadKeySet
	}{
		{name: "wrong issuer", mutate: func(c map[string]any) { c["iss"] = "https://evil.example.com" }},
		{name: "wrong audience", mutate: func(c map[string]any) { c["aud"] = "other" }},
		{name: "expired", mutate: func(c map[string]any) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{name: "bad signature", mutate: func(map[string]any) {}, keys: payloadKeySet{err: errors.New("bad sig")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims()
			tt.mutate(claims)
			v := NewStaticVerifier(testIssuer, "docflow", tt.keys)
			_, err := v.Verify(context.Background(), makeToken(t, claims))
			require.Error(t, err)
		})
	}
}

func TestVerify_NoAudienceConfigured(t *testing.T) {
	claims := baseClaims()
	claims["aud"] = "anything"
	v := NewStaticVerifier(testIssuer, "", payloadKeySet{})
	id, err := v.Verify(context.Background(), makeToken(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "00u1", id.UserID)
}

func TestVerify_Garbage(t *testing.T) {
	v := NewStaticVerifier(testIssuer, "docflow", payloadKeySet{})
	_, err := v.Verify(context.Background(), "not-a-jwt")
	require.Error(t, err)
}

func TestNewVerifier_Discovery(t *testing.T) {
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/auth",
			"token_endpoint":         issuer + "/token",
			"jwks_uri":               issuer + "/jwks",
		})
	}))
	defer srv.Close()
	issuer = srv.URL

	v, err := NewVerifier(context.Background(), VerifierConfig{Issuer: srv.URL + "/.well-known/openid-configuration"})
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := NewVerifier(context.Background(), VerifierConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer is required")
}

func TestIssuerFromDiscoveryURL(t *testing.T) {
	assert.Equal(t, "https://idp", issuerFromDiscoveryURL("https://idp/.well-known/openid-configuration"))
	assert.Equal(t, "https://idp", issuerFromDiscoveryURL("https://idp/"))
}
