package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/internal/oautherr"
	"github.com/nullstack-id/authd/internal/oidccrypto"
	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/tenant"
	"github.com/nullstack-id/authd/internal/token"
)

type fakeClients struct {
	clients map[string]tenant.Client
}

func (f fakeClients) GetClient(ctx context.Context, clientID string) (tenant.Client, error) {
	c, ok := f.clients[clientID]
	if !ok {
		return tenant.Client{}, tenant.ErrUnknownClient
	}
	return c, nil
}

type fakeTenants struct {
	tenants map[string]tenant.Tenant
}

func (f fakeTenants) GetTenant(ctx context.Context, tenantID string) (tenant.Tenant, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return tenant.Tenant{}, tenant.ErrUnknownTenant
	}
	return t, nil
}

func newTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()
	clients := fakeClients{clients: map[string]tenant.Client{
		"rp": {
			ClientID:             "rp",
			TenantID:             "acme",
			ClientType:           tenant.ClientConfidential,
			RedirectURIs:         []string{"https://rp.example/cb"},
			AllowedResponseTypes: []string{"code", "code id_token", "id_token", "code token", "code id_token token"},
			AllowedScopes:        []string{"profile", "email"},
		},
	}}
	tenants := fakeTenants{tenants: map[string]tenant.Tenant{
		"acme": {TenantID: "acme"},
	}}

	par := store.NewPARRequestStore(2, nil)
	flows := store.NewFlowStateStore(2, nil)
	codes := store.NewAuthorizationCodeStore(2, nil)
	keys := keymanager.New(2, time.Hour, nil)

	require.NoError(t, keys.EnsureKey(context.Background(), "acme", jose.ES256, time.Now()))

	cfg := Config{
		Issuer:          "https://issuer.example",
		Alg:             jose.ES256,
		FlowTTL:         10 * time.Minute,
		CodeTTL:         time.Minute,
		AccessTokenTTL:  time.Hour,
		IDTokenTTL:      time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	}
	e := NewEngine(clients, tenants, par, flows, codes, keys, cfg, nil)
	return e, func() {
		par.Close()
		flows.Close()
		codes.Close()
		keys.Close()
	}
}

func TestHybridCodeIDTokenIncludesNonceAndCHash(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	now := time.Now()
	ctx := context.Background()

	vr, err := e.Validate(ctx, Request{
		ClientID:     "rp",
		RedirectURI:  "https://rp.example/cb",
		ResponseType: "code id_token",
		Scope:        "openid profile",
		State:        "S",
		Nonce:        "N",
	}, now)
	require.NoError(t, err)
	require.Equal(t, "fragment", vr.ResponseMode)

	flowID, err := e.Start(ctx, vr, now)
	require.NoError(t, err)

	_, err = e.Authenticate(ctx, flowID, "user-1", []string{"pwd"}, "urn:mfa:none", now)
	require.NoError(t, err)

	resp, err := e.Complete(ctx, flowID, now)
	require.NoError(t, err)

	require.Equal(t, "https://rp.example/cb", resp.RedirectURI)
	require.Equal(t, "fragment", resp.ResponseMode)
	require.Equal(t, "S", resp.Params["state"])
	require.GreaterOrEqual(t, len(resp.Params["code"]), 128)
	require.NotEmpty(t, resp.Params["id_token"])
	_, hasAccessToken := resp.Params["access_token"]
	require.False(t, hasAccessToken)

	idt, err := jose.ParseSigned(resp.Params["id_token"], []jose.SignatureAlgorithm{jose.ES256})
	require.NoError(t, err)
	var claims token.IDTokenClaims
	require.NoError(t, json.Unmarshal(idt.UnsafePayloadWithoutVerification(), &claims))
	require.Equal(t, "N", claims.Nonce)
	wantCHash, err := oidccrypto.HalfHash(jose.ES256, resp.Params["code"])
	require.NoError(t, err)
	require.Equal(t, wantCHash, claims.CodeHash)
	require.Empty(t, claims.AccessTokenHash)
}

func TestHybridMissingNonceIsInvalidRequest(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	now := time.Now()
	ctx := context.Background()

	_, err := e.Validate(ctx, Request{
		ClientID:     "rp",
		RedirectURI:  "https://rp.example/cb",
		ResponseType: "code id_token",
		Scope:        "openid profile",
		State:        "S",
	}, now)
	require.Error(t, err)

	redirErr, ok := err.(*oautherr.RedirectTarget)
	require.True(t, ok, "expected a RedirectTarget, got %T", err)
	require.Equal(t, oautherr.InvalidRequest, redirErr.Err.Code)
	require.Contains(t, redirErr.Err.Description, "nonce")
}

func TestUnregisteredRedirectURIIsDisplayed(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	now := time.Now()
	ctx := context.Background()

	_, err := e.Validate(ctx, Request{
		ClientID:     "rp",
		RedirectURI:  "https://evil.example/cb",
		ResponseType: "code",
		Scope:        "openid",
	}, now)
	require.Error(t, err)
	_, ok := err.(*oautherr.DisplayedTarget)
	require.True(t, ok, "expected a DisplayedTarget, got %T", err)
}

func TestCodeOnlyFlowHasNoCHashOrAtHash(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	now := time.Now()
	ctx := context.Background()

	vr, err := e.Validate(ctx, Request{
		ClientID:     "rp",
		RedirectURI:  "https://rp.example/cb",
		ResponseType: "code",
		Scope:        "openid profile",
	}, now)
	require.NoError(t, err)
	require.Equal(t, "query", vr.ResponseMode)

	flowID, err := e.Start(ctx, vr, now)
	require.NoError(t, err)
	_, err = e.Authenticate(ctx, flowID, "user-1", nil, "", now)
	require.NoError(t, err)

	resp, err := e.Complete(ctx, flowID, now)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Params["code"])
	_, hasIDToken := resp.Params["id_token"]
	require.False(t, hasIDToken)
}
