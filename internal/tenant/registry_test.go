package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTenantAndClientRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.PutTenant(Tenant{TenantID: "tenant-a", BaseDomain: "a.example"})
	reg.PutClient(Client{ClientID: "client-a", TenantID: "tenant-a"})

	tn, err := reg.GetTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "a.example", tn.BaseDomain)

	cl, err := reg.GetClient(context.Background(), "client-a")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", cl.TenantID)

	reg.PutTenant(Tenant{TenantID: "tenant-b"})
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, reg.TenantIDs())
}

func TestRegistryUnknownLookups(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.GetTenant(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTenant)
	_, err = reg.GetClient(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestClientAllowsHelpers(t *testing.T) {
	c := Client{
		RedirectURIs:         []string{"https://app.example/cb"},
		AllowedGrantTypes:    []string{"authorization_code"},
		AllowedResponseTypes: []string{"code"},
		AllowedScopes:        []string{"openid", "profile"},
	}
	assert.True(t, c.AllowsRedirectURI("https://app.example/cb"))
	assert.False(t, c.AllowsRedirectURI("https://evil.example/cb"))
	assert.True(t, c.AllowsGrantType("authorization_code"))
	assert.False(t, c.AllowsGrantType("implicit"))
	assert.True(t, c.AllowsResponseType("code"))
	assert.True(t, c.AllowsScope("profile"))
	assert.False(t, c.AllowsScope("admin"))
}
