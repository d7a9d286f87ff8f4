package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorConfidentialClientSecret(t *testing.T) {
	reg := NewRegistry()
	hash, err := HashClientSecret("correct-horse-battery-staple")
	require.NoError(t, err)
	reg.PutClient(Client{ClientID: "client-a", ClientType: ClientConfidential, ClientSecretHash: hash})

	auth := NewAuthenticator(reg)
	tenantID, err := auth.Authenticate(context.Background(), "client-a", "correct-horse-battery-staple")
	require.NoError(t, err)
	assert.Equal(t, "", tenantID)

	_, err = auth.Authenticate(context.Background(), "client-a", "wrong-secret")
	assert.ErrorIs(t, err, ErrInvalidClientSecret)
}

func TestAuthenticatorPublicClientBypassesSecret(t *testing.T) {
	reg := NewRegistry()
	reg.PutClient(Client{ClientID: "public-client", TenantID: "tenant-a", ClientType: ClientPublic})

	auth := NewAuthenticator(reg)
	tenantID, err := auth.Authenticate(context.Background(), "public-client", "")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", tenantID)
}

func TestAuthenticatorUnknownClient(t *testing.T) {
	reg := NewRegistry()
	auth := NewAuthenticator(reg)
	_, err := auth.Authenticate(context.Background(), "nope", "secret")
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("same", "same"))
	assert.False(t, ConstantTimeEqual("same", "different"))
}
