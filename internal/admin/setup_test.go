package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTokenAtMostOnce(t *testing.T) {
	s := NewSetupTokenStore()
	now := time.Now()

	tok, err := s.IssueSetupToken(time.Hour, now)
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	assert.False(t, s.IsCompleted())

	require.NoError(t, s.CompleteSetup(tok, now.Add(time.Minute)))
	assert.True(t, s.IsCompleted())

	// Completion is the exclusive marker: no further issuance or completion.
	_, err = s.IssueSetupToken(time.Hour, now)
	assert.ErrorIs(t, err, ErrSetupAlreadyCompleted)
	assert.ErrorIs(t, s.CompleteSetup(tok, now), ErrSetupAlreadyCompleted)
}

func TestSetupTokenReissueBeforeCompletion(t *testing.T) {
	s := NewSetupTokenStore()
	now := time.Now()

	first, err := s.IssueSetupToken(time.Hour, now)
	require.NoError(t, err)
	second, err := s.IssueSetupToken(time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Only the latest issued token is valid.
	assert.ErrorIs(t, s.CompleteSetup(first, now.Add(2*time.Minute)), ErrInvalidSetupToken)
	require.NoError(t, s.CompleteSetup(second, now.Add(2*time.Minute)))
}

func TestSetupTokenExpiry(t *testing.T) {
	s := NewSetupTokenStore()
	now := time.Now()

	tok, err := s.IssueSetupToken(time.Hour, now)
	require.NoError(t, err)

	assert.ErrorIs(t, s.CompleteSetup(tok, now.Add(2*time.Hour)), ErrInvalidSetupToken)
	assert.False(t, s.IsCompleted())
}

func TestSetupTokenNeverIssued(t *testing.T) {
	s := NewSetupTokenStore()
	assert.ErrorIs(t, s.CompleteSetup("anything", time.Now()), ErrInvalidSetupToken)
}
