package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-id/authd/internal/oidccrypto"
)

func TestAuthorizationCodeConsumeHappyPath(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	verifier := "a-sufficiently-long-pkce-verifier-value"
	challenge := oidccrypto.PKCEChallengeS256(verifier)

	rec := AuthorizationCode{
		Code:        "code-1",
		ClientID:    "client-a",
		RedirectURI: "https://app.example/cb",
		PKCE:        PKCE{CodeChallenge: challenge, CodeChallengeMethod: "S256"},
	}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	got, err := s.Consume(context.Background(), "code-1", "client-a", "https://app.example/cb", verifier, "", now)
	require.NoError(t, err)
	assert.Equal(t, "client-a", got.ClientID)
}

func TestAuthorizationCodeConsumeIsSingleUse(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	verifier := "a-sufficiently-long-pkce-verifier-value"
	challenge := oidccrypto.PKCEChallengeS256(verifier)
	rec := AuthorizationCode{
		Code:        "code-2",
		ClientID:    "client-a",
		RedirectURI: "https://app.example/cb",
		PKCE:        PKCE{CodeChallenge: challenge, CodeChallengeMethod: "S256"},
	}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	_, err := s.Consume(context.Background(), "code-2", "client-a", "https://app.example/cb", verifier, "", now)
	require.NoError(t, err)

	_, err = s.Consume(context.Background(), "code-2", "client-a", "https://app.example/cb", verifier, "", now)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestAuthorizationCodeConsumeConcurrentDoubleSpendOnlyOneWins(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	verifier := "a-sufficiently-long-pkce-verifier-value"
	challenge := oidccrypto.PKCEChallengeS256(verifier)
	rec := AuthorizationCode{
		Code:        "code-race",
		ClientID:    "client-a",
		RedirectURI: "https://app.example/cb",
		PKCE:        PKCE{CodeChallenge: challenge, CodeChallengeMethod: "S256"},
	}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	const attempts = 20
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := s.Consume(context.Background(), "code-race", "client-a", "https://app.example/cb", verifier, "", now)
			results <- err
		}()
	}

	successes, failures := 0, 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrAlreadyConsumed)
			failures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, failures)
}

func TestAuthorizationCodeConsumeRejectsWrongPKCE(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	challenge := oidccrypto.PKCEChallengeS256("correct-verifier-value-long-enough")
	rec := AuthorizationCode{
		Code:        "code-3",
		ClientID:    "client-a",
		RedirectURI: "https://app.example/cb",
		PKCE:        PKCE{CodeChallenge: challenge, CodeChallengeMethod: "S256"},
	}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	_, err := s.Consume(context.Background(), "code-3", "client-a", "https://app.example/cb", "wrong-verifier-value-long-enough", "", now)
	assert.ErrorIs(t, err, ErrPKCEMismatch)
}

func TestAuthorizationCodeConsumeRejectsMismatchedClientAndRedirect(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := AuthorizationCode{
		Code:        "code-4",
		ClientID:    "client-a",
		RedirectURI: "https://app.example/cb",
	}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	_, err := s.Consume(context.Background(), "code-4", "client-b", "https://app.example/cb", "", "", now)
	assert.ErrorIs(t, err, ErrClientMismatch)

	_, err = s.Consume(context.Background(), "code-4", "client-a", "https://evil.example/cb", "", "", now)
	assert.ErrorIs(t, err, ErrRedirectMismatch)
}

func TestAuthorizationCodeConsumeRejectsExpired(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := AuthorizationCode{Code: "code-5", ClientID: "client-a", RedirectURI: "https://app.example/cb"}
	require.NoError(t, s.Store(context.Background(), rec, time.Second, now))

	_, err := s.Consume(context.Background(), "code-5", "client-a", "https://app.example/cb", "", "", now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestAuthorizationCodeConsumeRejectsDPoPMismatch(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := AuthorizationCode{
		Code:        "code-6",
		ClientID:    "client-a",
		RedirectURI: "https://app.example/cb",
		DPoPJKT:     "thumbprint-abc",
	}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	_, err := s.Consume(context.Background(), "code-6", "client-a", "https://app.example/cb", "", "thumbprint-xyz", now)
	assert.ErrorIs(t, err, ErrDPoPMismatch)
}

func TestAuthorizationCodeGarbageCollect(t *testing.T) {
	s := NewAuthorizationCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Store(context.Background(), AuthorizationCode{Code: "live"}, time.Hour, now))
	require.NoError(t, s.Store(context.Background(), AuthorizationCode{Code: "dead"}, time.Second, now))

	removed := s.GarbageCollect(context.Background(), now.Add(time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := s.Peek("dead")
	assert.False(t, ok)
	_, ok = s.Peek("live")
	assert.True(t, ok)
}
