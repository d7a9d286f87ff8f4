package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/pkg/log"
)

func newTestKeyManager(t *testing.T) *keymanager.Manager {
	t.Helper()
	km := keymanager.New(2, time.Hour, log.Default())
	require.NoError(t, km.EnsureKey(context.Background(), "tenant-a", jose.RS256, time.Now()))
	return km
}

// decodeIDTokenPayload reads the unverified claim set out of a compact JWS.
// These tests check claim shape, not signature validity (that's covered by
// internal/oidccrypto and internal/dpop), so skipping verification is fine.
func decodeIDTokenPayload(t *testing.T, jws string) IDTokenClaims {
	t.Helper()
	parts := splitJWS(jws)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims IDTokenClaims
	require.NoError(t, json.Unmarshal(raw, &claims))
	return claims
}

func splitJWS(jws string) []string {
	return strings.Split(jws, ".")
}

func TestMintIDTokenIncludesAtHashOnlyWhenAccessTokenPresent(t *testing.T) {
	km := newTestKeyManager(t)
	now := time.Now()

	jws, _, err := MintIDToken(km, IDTokenRequest{
		TenantID: "tenant-a", Issuer: "https://issuer.example", Alg: jose.RS256,
		Subject: "user-1", ClientID: "client-a", TTL: time.Hour,
	}, now)
	require.NoError(t, err)
	claims := decodeIDTokenPayload(t, jws)
	assert.Empty(t, claims.AccessTokenHash)
	assert.Empty(t, claims.CodeHash)

	jws, _, err = MintIDToken(km, IDTokenRequest{
		TenantID: "tenant-a", Issuer: "https://issuer.example", Alg: jose.RS256,
		Subject: "user-1", ClientID: "client-a", AccessToken: "opaque-at", Code: "opaque-code", TTL: time.Hour,
	}, now)
	require.NoError(t, err)
	claims = decodeIDTokenPayload(t, jws)
	assert.NotEmpty(t, claims.AccessTokenHash)
	assert.NotEmpty(t, claims.CodeHash)
}

func TestMintIDTokenAudienceMarshalsAsStringWhenSingle(t *testing.T) {
	km := newTestKeyManager(t)
	now := time.Now()

	jws, _, err := MintIDToken(km, IDTokenRequest{
		TenantID: "tenant-a", Issuer: "https://issuer.example", Alg: jose.RS256,
		Subject: "user-1", ClientID: "client-a", TTL: time.Hour,
	}, now)
	require.NoError(t, err)

	parts := splitJWS(jws)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	_, isString := generic["aud"].(string)
	assert.True(t, isString, "a single-audience id token must marshal aud as a bare string")
}

func TestMintIDTokenCrossClientAudienceAddsAzp(t *testing.T) {
	km := newTestKeyManager(t)
	now := time.Now()

	jws, _, err := MintIDToken(km, IDTokenRequest{
		TenantID: "tenant-a", Issuer: "https://issuer.example", Alg: jose.RS256,
		Subject: "user-1", ClientID: "client-a", Audience: []string{"peer-client"}, TTL: time.Hour,
	}, now)
	require.NoError(t, err)
	claims := decodeIDTokenPayload(t, jws)
	assert.Equal(t, "client-a", claims.AuthorizingParty)
	assert.Contains(t, []string(claims.Audience), "client-a")
	assert.Contains(t, []string(claims.Audience), "peer-client")
}

func TestMintAccessTokenBindsDPoPConfirmation(t *testing.T) {
	km := newTestKeyManager(t)
	now := time.Now()

	res, err := MintAccessToken(km, AccessTokenRequest{
		TenantID: "tenant-a", Issuer: "https://issuer.example", Alg: jose.RS256,
		Subject: "user-1", ClientID: "client-a", Scope: []string{"openid", "profile"},
		DPoPJKT: "thumbprint-xyz", TTL: time.Hour,
	}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, res.JTI)

	parts := splitJWS(res.JWT)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims AccessTokenClaims
	require.NoError(t, json.Unmarshal(raw, &claims))
	require.NotNil(t, claims.Confirmation)
	assert.Equal(t, "thumbprint-xyz", claims.Confirmation.JKT)
	assert.Equal(t, "openid profile", claims.Scope)
}

func TestNewRefreshTokenHandleIsUnique(t *testing.T) {
	a := NewRefreshTokenHandle()
	b := NewRefreshTokenHandle()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
