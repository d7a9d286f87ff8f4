package admin

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/token"
)

// ClientAuthenticator verifies a client's credentials before it is allowed
// to introspect or revoke tokens. Implemented by the tenant/client data model.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, clientID, clientSecret string) (tenantID string, err error)
}

// IntrospectionResult is the RFC 7662 response shape. Active is the only
// field guaranteed present; the rest are populated only when Active is
// true.
type IntrospectionResult struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Aud       []string `json:"aud,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
}

// inactive is the fixed {"active":false} response RFC 7662 requires for
// any unknown, expired, or revoked token — never an error, never a hint
// about why.
var inactive = IntrospectionResult{Active: false}

// IntrospectionService implements the RFC 7662 introspection operation.
type IntrospectionService struct {
	auth       ClientAuthenticator
	keys       *keymanager.Manager
	revocation *store.TokenRevocationStore
	rotator    *store.RefreshTokenRotator
}

// NewIntrospectionService builds an introspection service bound to the
// stores that hold revocation and refresh-family state.
func NewIntrospectionService(auth ClientAuthenticator, keys *keymanager.Manager, revocation *store.TokenRevocationStore, rotator *store.RefreshTokenRotator) *IntrospectionService {
	return &IntrospectionService{auth: auth, keys: keys, revocation: revocation, rotator: rotator}
}

// Introspect authenticates the calling client, then reports whether
// tokenValue is active, trying it first as a JWT access token and falling
// back to a refresh token handle.
func (s *IntrospectionService) Introspect(ctx context.Context, tenantID, callerClientID, callerSecret, tokenValue string, now time.Time) (IntrospectionResult, error) {
	if _, err := s.auth.Authenticate(ctx, callerClientID, callerSecret); err != nil {
		return IntrospectionResult{}, err
	}

	if looksLikeJWT(tokenValue) {
		return s.introspectAccessToken(tenantID, tokenValue, now), nil
	}
	return s.introspectRefreshToken(tokenValue, now), nil
}

func looksLikeJWT(v string) bool {
	return strings.Count(v, ".") == 2
}

func (s *IntrospectionService) introspectAccessToken(tenantID, jwt string, now time.Time) IntrospectionResult {
	sig, err := jose.ParseSigned(jwt, []jose.SignatureAlgorithm{
		jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
	})
	if err != nil || len(sig.Signatures) != 1 {
		return inactive
	}
	kid := sig.Signatures[0].Header.KeyID
	jwks := s.keys.GetPublicJWKS(tenantID)
	matches := jwks.Key(kid)
	if len(matches) == 0 {
		return inactive
	}

	var payload []byte
	for _, candidate := range matches {
		if p, verr := sig.Verify(candidate); verr == nil {
			payload = p
			break
		}
	}
	if payload == nil {
		return inactive
	}

	var claims token.AccessTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return inactive
	}
	if now.Unix() > claims.Expiry {
		return inactive
	}
	if s.revocation.IsAccessTokenRevoked(claims.JTI) {
		return inactive
	}
	return IntrospectionResult{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		Exp:       claims.Expiry,
		Iat:       claims.IssuedAt,
		Aud:       []string(claims.Audience),
		Iss:       claims.Issuer,
		TokenType: "Bearer",
	}
}

func (s *IntrospectionService) introspectRefreshToken(handle string, now time.Time) IntrospectionResult {
	result, err := s.peekRefreshToken(handle, now)
	if err != nil {
		return inactive
	}
	return result
}

// peekRefreshToken exposes just enough of the rotator's state for
// introspection without consuming/rotating the handle.
func (s *IntrospectionService) peekRefreshToken(handle string, now time.Time) (IntrospectionResult, error) {
	rec, err := s.rotator.Peek(handle)
	if err != nil {
		return IntrospectionResult{}, err
	}
	if !rec.IsTip() || now.After(rec.ExpiresAt) {
		return IntrospectionResult{}, store.ErrExpired
	}
	return IntrospectionResult{
		Active:    true,
		ClientID:  rec.ClientID,
		Subject:   rec.UserID,
		Exp:       rec.ExpiresAt.Unix(),
		Iat:       rec.IssuedAt.Unix(),
		TokenType: "refresh_token",
	}, nil
}
