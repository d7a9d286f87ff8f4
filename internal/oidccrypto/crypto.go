// Package oidccrypto provides the cryptographic primitives shared by the
// key manager, token minting, and flow engine: JWS signing, PKCE hashing,
// access/ID token hash computations, and secure ID generation.
//
// Grounded on dexidp/dex server/oauth2.go (signPayload, accessTokenHash,
// signatureAlgorithm) and storage/storage.go (newSecureID, NewHMACKey).
package oidccrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// Kubernetes-safe base32 alphabet dex uses for opaque IDs; kept so generated
// identifiers remain safe in every storage backend this module targets.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

// NewSecureID returns a random identifier of the requested byte length,
// base32-encoded and guaranteed not to start with a digit.
func NewSecureID(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return string(buf[0]%26+'a') + strings.TrimRight(idEncoding.EncodeToString(buf[1:]), "=")
}

// NewOpaqueToken returns a base64url token built from at least minBytes of
// randomness. Authorization codes use minBytes=96 (>=128 chars encoded);
// refresh handles use minBytes=32.
func NewOpaqueToken(minBytes int) string {
	buf := make([]byte, minBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Device user codes exclude vowels and the ambiguous 0/O/1/I so a code read
// aloud or typed from a TV screen cannot be mistranscribed.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// NewUserCode returns a randomized 8 character device-flow user code,
// dash-chunked for readability ("WDJB-MJHT").
func NewUserCode() string {
	max := big.NewInt(int64(len(userCodeAlphabet)))
	buf := make([]byte, 8)
	for i := range buf {
		c, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = userCodeAlphabet[c.Int64()]
	}
	return string(buf[:4]) + "-" + string(buf[4:])
}

// PKCEChallengeS256 computes the S256 code_challenge for a given verifier:
// base64url(sha256(code_verifier)).
func PKCEChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE reports whether verifier, hashed under method, equals challenge.
func VerifyPKCE(method, challenge, verifier string) bool {
	switch method {
	case "S256":
		return PKCEChallengeS256(verifier) == challenge
	case "plain", "":
		return verifier == challenge
	default:
		return false
	}
}

// SignatureAlgorithm determines the JWS alg for a signing key, mirroring
// dex's signatureAlgorithm: RSA keys always sign RS256, EC keys sign the alg
// prescribed by their curve, Ed25519 keys sign EdDSA.
func SignatureAlgorithm(key *jose.JSONWebKey) (jose.SignatureAlgorithm, error) {
	if key == nil || key.Key == nil {
		return "", errors.New("no signing key")
	}
	switch k := key.Key.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		switch k.Params() {
		case elliptic.P256().Params():
			return jose.ES256, nil
		case elliptic.P384().Params():
			return jose.ES384, nil
		case elliptic.P521().Params():
			return jose.ES512, nil
		default:
			return "", errors.New("unsupported ecdsa curve")
		}
	default:
		// Ed25519 and any other key type go-jose can sign with (e.g. EdDSA).
		return jose.EdDSA, nil
	}
}

// SignPayload signs payload with key using alg and returns the compact JWS.
func SignPayload(key *jose.JSONWebKey, alg jose.SignatureAlgorithm, payload []byte) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Key: key, Algorithm: alg}, &jose.SignerOptions{})
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return sig.CompactSerialize()
}

// hashForSigAlg mirrors the OIDC Core rule: the hash algorithm used for
// at_hash/c_hash is the one implied by the ID token's signing alg.
var hashForSigAlg = map[jose.SignatureAlgorithm]func() hash.Hash{
	jose.RS256: sha256.New,
	jose.RS384: sha512.New384,
	jose.RS512: sha512.New,
	jose.ES256: sha256.New,
	jose.ES384: sha512.New384,
	jose.ES512: sha512.New,
	jose.EdDSA: sha512.New,
}

// HalfHash computes base64url(firstHalf(HASH(value))) for the signing alg in
// use, the construction shared by at_hash and c_hash.
func HalfHash(alg jose.SignatureAlgorithm, value string) (string, error) {
	newHash, ok := hashForSigAlg[alg]
	if !ok {
		return "", fmt.Errorf("unsupported signature algorithm for hashing: %s", alg)
	}
	h := newHash()
	if _, err := io.WriteString(h, value); err != nil {
		return "", fmt.Errorf("computing hash: %w", err)
	}
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}

// JWKThumbprint returns the SHA-256 JWK thumbprint (RFC 7638) of a public
// key, used both to mint and to validate DPoP cnf.jkt confirmation claims.
func JWKThumbprint(key *jose.JSONWebKey) (string, error) {
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jwk thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// HMACSHA256 computes an HMAC-SHA256 over data with the given key, used to
// bind authorization-request HMAC keys and challenge hashes.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
