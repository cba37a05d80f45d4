package services

import (
	"context"
	"testing"
	"time"

	"rolechat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionService_IssueAndAuthenticate(t *testing.T) {
	svc := NewSessionService("session-secret", time.Hour)

	token, err := svc.Issue("ada@example.com", "Ada Lovelace", "https://example.com/ada.png")
	require.NoError(t, err)

	identity, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", identity.Key)
	assert.Equal(t, "Ada Lovelace", identity.Name)
	assert.Equal(t, "https://example.com/ada.png", identity.AvatarURL)
}

func TestSessionService_RequiresEmail(t *testing.T) {
	svc := NewSessionService("session-secret", time.Hour)

	_, err := svc.Issue("  ", "nobody", "")
	assert.ErrorIs(t, err, domain.ErrMissingClientID)
}

func TestSessionService_Expired(t *testing.T) {
	svc := NewSessionService("session-secret", time.Minute)
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.Issue("ada@example.com", "", "")
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredSession)
}

func TestSessionService_RejectsForeignSignature(t *testing.T) {
	other := NewSessionService("other-secret", time.Hour)
	token, err := other.Issue("ada@example.com", "", "")
	require.NoError(t, err)

	svc := NewSessionService("session-secret", time.Hour)
	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
