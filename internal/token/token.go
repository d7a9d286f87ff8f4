// Package token implements token minting: ID tokens, access tokens, and
// refresh tokens. Grounded on dexidp/dex's server/oauth2.go
// newIDToken/newAccessToken (claim shape, at_hash/c_hash computation,
// cross-client audience assembly) generalized to a per-tenant signing key
// (via internal/keymanager) and extended with auth_time, acr, amr, and
// DPoP cnf.jkt binding.
package token

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/internal/oidccrypto"
)

// Audience marshals as a bare string when it has exactly one entry, and as
// an array otherwise, matching OIDC Core's aud claim shape (dex's
// server/oauth2.go audience type).
type Audience []string

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON accepts both the bare-string and array forms produced by
// MarshalJSON.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return err
	}
	*a = Audience(multi)
	return nil
}

// Confirmation carries the DPoP cnf.jkt proof-of-possession claim (RFC
// 9449 §4.2).
type Confirmation struct {
	JKT string `json:"jkt"`
}

// IDTokenClaims is the ID token claim set.
type IDTokenClaims struct {
	Issuer           string       `json:"iss"`
	Subject          string       `json:"sub"`
	Audience         Audience     `json:"aud"`
	Expiry           int64        `json:"exp"`
	IssuedAt         int64        `json:"iat"`
	AuthTime         int64        `json:"auth_time,omitempty"`
	AuthorizingParty string       `json:"azp,omitempty"`
	Nonce            string       `json:"nonce,omitempty"`
	ACR              string       `json:"acr,omitempty"`
	AMR              []string     `json:"amr,omitempty"`
	AccessTokenHash  string       `json:"at_hash,omitempty"`
	CodeHash         string       `json:"c_hash,omitempty"`
	Confirmation     *Confirmation `json:"cnf,omitempty"`
}

// IDTokenRequest carries everything needed to mint an ID token for one
// issuance.
type IDTokenRequest struct {
	TenantID    string
	Issuer      string
	Alg         jose.SignatureAlgorithm
	Subject     string
	ClientID    string
	Audience    []string // cross-client audiences already trust-validated by the caller
	Nonce       string
	AuthTime    time.Time
	ACR         string
	AMR         []string
	AccessToken string // non-empty to include at_hash
	Code        string // non-empty to include c_hash
	TTL         time.Duration
}

// MintIDToken builds and signs an ID token: c_hash is present
// iff Code is set, at_hash iff AccessToken is set, both included only when
// the corresponding artifact is part of this response.
func MintIDToken(km *keymanager.Manager, req IDTokenRequest, now time.Time) (jws string, expiry time.Time, err error) {
	expiry = now.Add(req.TTL)
	claims := IDTokenClaims{
		Issuer:   req.Issuer,
		Subject:  req.Subject,
		Nonce:    req.Nonce,
		Expiry:   expiry.Unix(),
		IssuedAt: now.Unix(),
		AuthTime: req.AuthTime.Unix(),
		ACR:      req.ACR,
		AMR:      req.AMR,
	}

	if len(req.Audience) == 0 {
		claims.Audience = Audience{req.ClientID}
	} else {
		claims.Audience = Audience(req.Audience)
		if !contains(req.Audience, req.ClientID) {
			claims.Audience = append(claims.Audience, req.ClientID)
		}
		claims.AuthorizingParty = req.ClientID
	}

	if req.AccessToken != "" {
		atHash, err := oidccrypto.HalfHash(req.Alg, req.AccessToken)
		if err != nil {
			return "", expiry, fmt.Errorf("token: at_hash: %w", err)
		}
		claims.AccessTokenHash = atHash
	}
	if req.Code != "" {
		cHash, err := oidccrypto.HalfHash(req.Alg, req.Code)
		if err != nil {
			return "", expiry, fmt.Errorf("token: c_hash: %w", err)
		}
		claims.CodeHash = cHash
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", expiry, fmt.Errorf("token: marshal id token claims: %w", err)
	}
	jws, err = km.Sign(req.TenantID, req.Alg, payload)
	if err != nil {
		return "", expiry, fmt.Errorf("token: sign id token: %w", err)
	}
	return jws, expiry, nil
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// AccessTokenClaims is the claim set for JWT access tokens.
type AccessTokenClaims struct {
	Issuer       string        `json:"iss"`
	Subject      string        `json:"sub"`
	Audience     Audience      `json:"aud"`
	Expiry       int64         `json:"exp"`
	IssuedAt     int64         `json:"iat"`
	JTI          string        `json:"jti"`
	Scope        string        `json:"scope,omitempty"`
	ClientID     string        `json:"client_id"`
	ACR          string        `json:"acr,omitempty"`
	AMR          []string      `json:"amr,omitempty"`
	Confirmation *Confirmation `json:"cnf,omitempty"`
}

// AccessTokenRequest carries everything needed to mint a JWT access token.
type AccessTokenRequest struct {
	TenantID string
	Issuer   string
	Alg      jose.SignatureAlgorithm
	Subject  string
	ClientID string
	Audience []string
	Scope    []string
	ACR      string
	AMR      []string
	DPoPJKT  string // non-empty binds the token with cnf.jkt
	TTL      time.Duration
}

// AccessTokenResult is what MintAccessToken returns: the signed JWT plus
// the jti the caller needs to register for revocation lookups.
type AccessTokenResult struct {
	JWT    string
	JTI    string
	Expiry time.Time
}

// MintAccessToken builds and signs a JWT access token with a random >=128
// bit jti, binding it to a DPoP proof via cnf.jkt when
// req.DPoPJKT is set.
func MintAccessToken(km *keymanager.Manager, req AccessTokenRequest, now time.Time) (AccessTokenResult, error) {
	jti := oidccrypto.NewSecureID(16)
	expiry := now.Add(req.TTL)

	aud := req.Audience
	if len(aud) == 0 {
		aud = []string{req.ClientID}
	}

	claims := AccessTokenClaims{
		Issuer:   req.Issuer,
		Subject:  req.Subject,
		Audience: Audience(aud),
		Expiry:   expiry.Unix(),
		IssuedAt: now.Unix(),
		JTI:      jti,
		Scope:    joinScope(req.Scope),
		ClientID: req.ClientID,
		ACR:      req.ACR,
		AMR:      req.AMR,
	}
	if req.DPoPJKT != "" {
		claims.Confirmation = &Confirmation{JKT: req.DPoPJKT}
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return AccessTokenResult{}, fmt.Errorf("token: marshal access token claims: %w", err)
	}
	jws, err := km.Sign(req.TenantID, req.Alg, payload)
	if err != nil {
		return AccessTokenResult{}, fmt.Errorf("token: sign access token: %w", err)
	}
	return AccessTokenResult{JWT: jws, JTI: jti, Expiry: expiry}, nil
}

func joinScope(scope []string) string {
	return strings.Join(scope, " ")
}

// NewRefreshTokenHandle mints an opaque 256-bit refresh token handle;
// persistence and rotation live in
// store.RefreshTokenRotator, which this module's callers invoke directly.
func NewRefreshTokenHandle() string {
	return oidccrypto.NewOpaqueToken(32)
}
