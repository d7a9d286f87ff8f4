package store

import "errors"

// Sentinel errors returned by store operations, extending dexidp/dex's
// storage.ErrNotFound / storage.ErrAlreadyExists with the additional cases
// the atomic consume operations distinguish.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrAlreadyExists     = errors.New("store: already exists")
	ErrExpired           = errors.New("store: expired")
	ErrAlreadyConsumed   = errors.New("store: already consumed")
	ErrClientMismatch    = errors.New("store: client mismatch")
	ErrRedirectMismatch  = errors.New("store: redirect_uri mismatch")
	ErrPKCEMismatch      = errors.New("store: pkce verification failed")
	ErrDPoPMismatch      = errors.New("store: dpop thumbprint mismatch")
	ErrReuseDetected     = errors.New("store: refresh token reuse detected")
	ErrChallengeMismatch = errors.New("store: challenge verification failed")
	ErrScopeExpansion    = errors.New("store: requested scope exceeds granted scope")
)
