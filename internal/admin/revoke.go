package admin

import (
	"context"
	"encoding/json"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/token"
)

// RevocationService implements the RFC 7009 revocation operation:
// accepts either an access or refresh token, is idempotent, and always
// reports success even for a token it has never seen.
type RevocationService struct {
	auth       ClientAuthenticator
	revocation *store.TokenRevocationStore
	rotator    *store.RefreshTokenRotator
}

// NewRevocationService builds a revocation service.
func NewRevocationService(auth ClientAuthenticator, revocation *store.TokenRevocationStore, rotator *store.RefreshTokenRotator) *RevocationService {
	return &RevocationService{auth: auth, revocation: revocation, rotator: rotator}
}

// Revoke authenticates the calling client then revokes tokenValue. Per RFC
// 7009 §2.2, the endpoint responds with success (nil error) regardless of
// whether the token was found, already revoked, or malformed — only a
// client authentication failure is reported as an error. Per RFC 7009
// §2.1, a token that was issued to a different client is not revoked; that
// case also reports success so the response doesn't leak whether the token
// exists.
func (s *RevocationService) Revoke(ctx context.Context, callerClientID, callerSecret, tokenValue string, now time.Time) error {
	if _, err := s.auth.Authenticate(ctx, callerClientID, callerSecret); err != nil {
		return err
	}

	if looksLikeJWT(tokenValue) {
		claims, ok := parseAccessTokenForRevocation(tokenValue)
		if ok && claims.ClientID == callerClientID {
			_ = s.revocation.RevokeAccessToken(ctx, claims.JTI, time.Unix(claims.Expiry, 0), now)
		}
		return nil
	}

	rec, err := s.rotator.Peek(tokenValue)
	if err != nil || rec.ClientID != callerClientID {
		return nil
	}
	_ = s.revocation.RevokeRefreshFamily(ctx, rec.FamilyID, now)
	return nil
}

// parseAccessTokenForRevocation reads the claims out of an access token
// without verifying its signature: revocation only needs to know which jti
// to tombstone, for how long, and for which client, and an attacker
// presenting a forged token merely wastes a tombstone slot rather than
// gaining anything.
func parseAccessTokenForRevocation(jwt string) (token.AccessTokenClaims, bool) {
	sig, err := jose.ParseSigned(jwt, []jose.SignatureAlgorithm{
		jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
	})
	if err != nil || len(sig.Signatures) != 1 {
		return token.AccessTokenClaims{}, false
	}
	payload := sig.UnsafePayloadWithoutVerification()
	var claims token.AccessTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.JTI == "" {
		return token.AccessTokenClaims{}, false
	}
	return claims, true
}
