// Package dpop validates RFC 9449 DPoP proof JWTs: the short-lived,
// client-signed assertion presented alongside a token request or a
// protected-resource call that binds the token to a key the client holds.
// Grounded on internal/oidccrypto's JWS/thumbprint primitives and dex's
// signatureAlgorithm selection (server/oauth2.go), since a DPoP proof is
// signed and verified with exactly the same JOSE machinery as an ID token.
package dpop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nullstack-id/authd/internal/oidccrypto"
	"github.com/nullstack-id/authd/internal/store"
)

// MaxClockSkew bounds how far a proof's iat may drift from now in either
// direction before it is rejected; the lower
// bound of the replay-barrier window doubles as the freshness tolerance.
const MaxClockSkew = 60 * time.Second

// Claims is a DPoP proof's JWT payload (RFC 9449 §4.2).
type Claims struct {
	JTI             string `json:"jti"`
	HTM             string `json:"htm"`
	HTU             string `json:"htu"`
	IssuedAt        int64  `json:"iat"`
	AccessTokenHash string `json:"ath,omitempty"`
}

// ErrInvalidProof covers every structural or semantic failure of a DPoP
// proof: bad typ header, missing/invalid embedded jwk, signature mismatch,
// htm/htu mismatch, or a stale iat.
var ErrInvalidProof = errors.New("dpop: invalid proof")

// ErrReplayed is returned by CheckAndRecord when the proof's jti has
// already been seen within its validity window (RFC 9449 §11.1).
var ErrReplayed = errors.New("dpop: proof jti replayed")

// Verify parses and verifies compact DPoP proof JWS proof, checking that it
// is signed by the embedded public key, carries typ "dpop+jwt", and that
// its htm/htu match the current request and its iat is within
// MaxClockSkew of now. It returns the proof's claims and the RFC 7638
// thumbprint of the signing key (the cnf.jkt value to bind or check).
func Verify(proof, expectedHTM, expectedHTU string, now time.Time) (Claims, string, error) {
	sig, err := jose.ParseSigned(proof, []jose.SignatureAlgorithm{
		jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
	})
	if err != nil {
		return Claims{}, "", fmt.Errorf("%w: parse: %v", ErrInvalidProof, err)
	}
	if len(sig.Signatures) != 1 {
		return Claims{}, "", fmt.Errorf("%w: expected exactly one signature", ErrInvalidProof)
	}
	header := sig.Signatures[0].Header
	if header.ExtraHeaders[jose.HeaderKey("typ")] != "dpop+jwt" {
		return Claims{}, "", fmt.Errorf("%w: missing typ dpop+jwt", ErrInvalidProof)
	}
	jwk := header.JSONWebKey
	if jwk == nil || !jwk.Valid() || !jwk.IsPublic() {
		return Claims{}, "", fmt.Errorf("%w: missing embedded public jwk", ErrInvalidProof)
	}

	payload, err := sig.Verify(jwk)
	if err != nil {
		return Claims{}, "", fmt.Errorf("%w: signature verification failed: %v", ErrInvalidProof, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, "", fmt.Errorf("%w: unmarshal claims: %v", ErrInvalidProof, err)
	}
	if claims.HTM != expectedHTM || claims.HTU != expectedHTU {
		return Claims{}, "", fmt.Errorf("%w: htm/htu mismatch", ErrInvalidProof)
	}
	issuedAt := time.Unix(claims.IssuedAt, 0)
	if now.Sub(issuedAt) > MaxClockSkew || issuedAt.Sub(now) > MaxClockSkew {
		return Claims{}, "", fmt.Errorf("%w: stale iat", ErrInvalidProof)
	}

	jkt, err := oidccrypto.JWKThumbprint(jwk)
	if err != nil {
		return Claims{}, "", fmt.Errorf("%w: thumbprint: %v", ErrInvalidProof, err)
	}
	return claims, jkt, nil
}

// CheckAndRecord verifies proof as Verify does, then enforces single-use
// via jtis. ttl should match the proof's own freshness window so the
// replay barrier doesn't outlive the assertion it protects.
func CheckAndRecord(ctx context.Context, jtis *store.DPoPJTIStore, proof, expectedHTM, expectedHTU string, ttl time.Duration, now time.Time) (Claims, string, error) {
	claims, jkt, err := Verify(proof, expectedHTM, expectedHTU, now)
	if err != nil {
		return Claims{}, "", err
	}
	if err := jtis.Seen(ctx, claims.JTI, expectedHTM, expectedHTU, ttl, now); err != nil {
		return Claims{}, "", fmt.Errorf("%w: %w", ErrInvalidProof, ErrReplayed)
	}
	return claims, jkt, nil
}
