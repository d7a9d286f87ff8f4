package tenant

import (
	"context"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost mirrors dexidp/dex's user/password.go bcryptHashCost.
const bcryptCost = 10

// ErrUnknownClient is returned when clientID has no registration.
var ErrUnknownClient = errors.New("tenant: unknown client")

// ErrUnknownTenant is returned when tenantID has no registration.
var ErrUnknownTenant = errors.New("tenant: unknown tenant")

// ErrInvalidClientSecret is returned when a confidential client's secret
// doesn't match.
var ErrInvalidClientSecret = errors.New("tenant: invalid client secret")

// ClientStore is the read side of client registration the rest of the
// module depends on; its write side (registration, rotation) belongs to
// the admin dashboard, which is out of scope.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (Client, error)
}

// HashClientSecret hashes a plaintext client secret for storage, matching
// dex's DefaultPasswordHasher (bcrypt at cost 10).
func HashClientSecret(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
}

// Authenticator implements admin.ClientAuthenticator, verifying a client's
// secret against its registered hash. Public clients (ClientSecretHash ==
// nil) authenticate by client_id alone, matching token_endpoint_auth_method
// "none".
type Authenticator struct {
	clients ClientStore
}

// NewAuthenticator builds a client authenticator backed by clients.
func NewAuthenticator(clients ClientStore) *Authenticator {
	return &Authenticator{clients: clients}
}

// Authenticate verifies clientID/clientSecret and returns the client's
// tenant on success.
func (a *Authenticator) Authenticate(ctx context.Context, clientID, clientSecret string) (string, error) {
	c, err := a.clients.GetClient(ctx, clientID)
	if err != nil {
		return "", ErrUnknownClient
	}
	if c.ClientType == ClientPublic && len(c.ClientSecretHash) == 0 {
		return c.TenantID, nil
	}
	if len(c.ClientSecretHash) == 0 {
		return "", ErrInvalidClientSecret
	}
	if err := bcrypt.CompareHashAndPassword(c.ClientSecretHash, []byte(clientSecret)); err != nil {
		return "", ErrInvalidClientSecret
	}
	return c.TenantID, nil
}

// ConstantTimeEqual compares two strings in constant time, used for
// comparing opaque tokens (PAR request secrets, setup tokens) where a
// timing side channel would leak information bcrypt isn't appropriate
// for (these aren't passwords, just high-entropy random strings).
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
