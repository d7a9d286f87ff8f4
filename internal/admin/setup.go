// Package admin implements the admin control surface: RFC 7662
// introspection, RFC 7009 revocation, and the initial admin setup token.
// HTTP framing, the admin dashboard UI, and SCIM are explicitly out of
// scope; this package only implements the underlying operations.
package admin

import (
	"errors"
	"sync"
	"time"

	"github.com/nullstack-id/authd/internal/oidccrypto"
)

// DefaultSetupTokenTTL is the setup token's default lifetime.
const DefaultSetupTokenTTL = time.Hour

// ErrSetupAlreadyCompleted is returned by IssueSetupToken once initial
// admin setup has already run; the setup token may be minted at most once
// per deployment.
var ErrSetupAlreadyCompleted = errors.New("admin: initial setup already completed")

// ErrInvalidSetupToken is returned by CompleteSetup when the presented
// token doesn't match the one on file, or none was ever issued.
var ErrInvalidSetupToken = errors.New("admin: invalid setup token")

// SetupTokenStore holds the single exclusive "setup:token"/"setup:completed"
// pair guarding initial admin bootstrap. It is a deployment-wide singleton (not sharded
// by tenant), so a plain mutex is the right tool — there is exactly one
// writer's worth of contention to serialize, not N shards' worth.
type SetupTokenStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	completed bool
}

// NewSetupTokenStore starts an empty setup token store.
func NewSetupTokenStore() *SetupTokenStore {
	return &SetupTokenStore{}
}

// IssueSetupToken mints and stores a fresh setup token if initial setup has
// not yet completed. Calling it again before completion simply reissues a
// new token with a fresh TTL (e.g. after the previous one expired);
// calling it after CompleteSetup returns
// ErrSetupAlreadyCompleted: the completed marker permanently blocks
// further token storage.
func (s *SetupTokenStore) IssueSetupToken(ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSetupTokenTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return "", ErrSetupAlreadyCompleted
	}
	s.token = oidccrypto.NewOpaqueToken(32)
	s.expiresAt = now.Add(ttl)
	return s.token, nil
}

// CompleteSetup validates presented against the stored token and, on
// success, sets the exclusive completed marker, permanently blocking any
// further setup token issuance (at-most-once semantics).
func (s *SetupTokenStore) CompleteSetup(presented string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return ErrSetupAlreadyCompleted
	}
	if s.token == "" || presented != s.token || now.After(s.expiresAt) {
		return ErrInvalidSetupToken
	}
	s.completed = true
	s.token = ""
	return nil
}

// IsCompleted reports whether initial admin setup has already run.
func (s *SetupTokenStore) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}
