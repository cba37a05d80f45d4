package services

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"rolechat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "appKey123:s3cr3t-signing-key"

func decodeSegment(t *testing.T, token string, index int) map[string]interface{} {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[index])
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestMintToken_HeaderAndClaims(t *testing.T) {
	issuedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	capability := domain.Capability{"chat:random": {domain.ActionSubscribe, domain.ActionPublish, domain.ActionPresence}}

	token, err := MintToken("u1@example.com", testAPIKey, domain.RoleClaim{}, capability, issuedAt)
	require.NoError(t, err)

	header := decodeSegment(t, token, 0)
	assert.Equal(t, map[string]interface{}{"alg": "HS256", "kid": "appKey123"}, header)

	payload := decodeSegment(t, token, 1)
	assert.Equal(t, `{"chat:random":["subscribe","publish","presence"]}`, payload["x-ably-capability"])
	assert.Equal(t, "u1@example.com", payload["x-ably-clientId"])
	assert.Equal(t, `{"isMod":false}`, payload["ably.channel.*"])
	assert.EqualValues(t, issuedAt.Unix(), payload["iat"])
	assert.EqualValues(t, issuedAt.Add(24*time.Hour).Unix(), payload["exp"])
}

func TestMintToken_Deterministic(t *testing.T) {
	capability := domain.WildcardCapability()
	claim := domain.RoleClaim{IsMod: true}

	first, err := MintToken("mod@example.com", testAPIKey, claim, capability, time.Unix(1700000000, 0))
	require.NoError(t, err)
	second, err := MintToken("mod@example.com", testAPIKey, claim, capability, time.Unix(1700000000, 900))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	later, err := MintToken("mod@example.com", testAPIKey, claim, capability, time.Unix(1700000100, 0))
	require.NoError(t, err)

	a, b := decodeSegment(t, first, 1), decodeSegment(t, later, 1)
	for _, key := range []string{"iat", "exp"} {
		delete(a, key)
		delete(b, key)
	}
	assert.Equal(t, a, b)
	assert.Equal(t, decodeSegment(t, first, 0), decodeSegment(t, later, 0))
}

func TestMintToken_InvalidKeyMaterial(t *testing.T) {
	for _, key := range []string{"", "no-delimiter", ":secret-only", "id-only:"} {
		token, err := MintToken("u1@example.com", key, domain.RoleClaim{}, domain.Capability{}, time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidKeyMaterial, key)
		assert.Empty(t, token)
	}
}

func TestMintToken_MissingClientID(t *testing.T) {
	token, err := MintToken("", testAPIKey, domain.RoleClaim{}, domain.Capability{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrMissingClientID)
	assert.Empty(t, token)
}

func TestTokenMinter_VerifyRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	minter := NewTokenMinter(testAPIKey)
	minter.now = func() time.Time { return now }

	capability := domain.Capability{"chat:general": {domain.ActionSubscribe}}
	token, err := minter.Mint("viewer@example.com", domain.RoleClaim{}, capability)
	require.NoError(t, err)

	grant, err := minter.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "viewer@example.com", grant.ClientID)
	assert.Equal(t, "appKey123", grant.KeyID)
	assert.Equal(t, capability, grant.Capability)
	assert.False(t, grant.Claim.IsMod)
	assert.True(t, now.Add(RealtimeTokenTTL).Equal(grant.ExpiresAt))
}

func TestTokenMinter_VerifyRejects(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	minter := NewTokenMinter(testAPIKey)
	minter.now = func() time.Time { return now }

	token, err := minter.Mint("u@example.com", domain.RoleClaim{}, domain.Capability{})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		late := NewTokenMinter(testAPIKey)
		late.now = func() time.Time { return now.Add(RealtimeTokenTTL + time.Second) }
		_, err := late.Verify(token)
		assert.ErrorIs(t, err, domain.ErrTokenExpired)
	})

	t.Run("other key id", func(t *testing.T) {
		other := NewTokenMinter("otherKey:s3cr3t-signing-key")
		other.now = minter.now
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewTokenMinter("appKey123:different")
		other.now = minter.now
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := minter.Verify("not.a.token")
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}

func TestInspectToken(t *testing.T) {
	token, err := MintToken("mod@example.com", testAPIKey, domain.RoleClaim{IsMod: true}, domain.WildcardCapability(), time.Now())
	require.NoError(t, err)

	header, grant, err := InspectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "appKey123", header["kid"])
	assert.True(t, grant.Claim.IsMod)
	assert.True(t, grant.Capability.IsWildcard())
}
