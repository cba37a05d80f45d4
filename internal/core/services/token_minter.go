package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rolechat/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// RealtimeTokenTTL is the fixed lifetime of a realtime credential.
const RealtimeTokenTTL = 24 * time.Hour

const (
	claimCapability = "x-ably-capability"
	claimClientID   = "x-ably-clientId"
	claimChannel    = "ably.channel.*"
)

// RealtimeClaims is the payload of a realtime credential. Capability and
// role claims travel as JSON strings.
type RealtimeClaims struct {
	Capability   string `json:"x-ably-capability"`
	ClientID     string `json:"x-ably-clientId"`
	ChannelClaim string `json:"ably.channel.*"`
	jwt.RegisteredClaims
}

// ParseKeyMaterial splits "<keyId>:<secret>".
func ParseKeyMaterial(apiKey string) (keyID, secret string, err error) {
	keyID, secret, ok := strings.Cut(apiKey, ":")
	if !ok || keyID == "" || secret == "" {
		return "", "", domain.ErrInvalidKeyMaterial
	}
	return keyID, secret, nil
}

// MintToken signs a realtime credential. It performs no I/O and yields the
// same token for the same inputs and issuedAt second.
func MintToken(clientID, apiKey string, claim domain.RoleClaim, capability domain.Capability, issuedAt time.Time) (string, error) {
	if clientID == "" {
		return "", domain.ErrMissingClientID
	}
	keyID, secret, err := ParseKeyMaterial(apiKey)
	if err != nil {
		return "", err
	}

	encodedCapability, err := capability.Encode()
	if err != nil {
		return "", err
	}
	encodedClaim, err := claim.Encode()
	if err != nil {
		return "", err
	}

	iat := issuedAt.Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &RealtimeClaims{
		Capability:   encodedCapability,
		ClientID:     clientID,
		ChannelClaim: encodedClaim,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(RealtimeTokenTTL)),
		},
	})
	token.Header = map[string]interface{}{
		"alg": jwt.SigningMethodHS256.Alg(),
		"kid": keyID,
	}

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign realtime token: %w", err)
	}
	return signed, nil
}

// TokenMinter binds MintToken to configured key material and also verifies
// credentials for the realtime gateway.
type TokenMinter struct {
	apiKey string
	now    func() time.Time
}

func NewTokenMinter(apiKey string) *TokenMinter {
	return &TokenMinter{
		apiKey: apiKey,
		now:    time.Now,
	}
}

func (m *TokenMinter) Mint(clientID string, claim domain.RoleClaim, capability domain.Capability) (string, error) {
	return MintToken(clientID, m.apiKey, claim, capability, m.now())
}

// Verify checks signature, key id and expiry, then decodes the opaque JSON
// claims into a typed grant.
func (m *TokenMinter) Verify(tokenString string) (*domain.RealtimeGrant, error) {
	keyID, secret, err := ParseKeyMaterial(m.apiKey)
	if err != nil {
		return nil, err
	}

	claims := &RealtimeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if kid, _ := token.Header["kid"].(string); kid != keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	return grantFromClaims(keyID, claims)
}

func grantFromClaims(keyID string, claims *RealtimeClaims) (*domain.RealtimeGrant, error) {
	if claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidToken, claimClientID)
	}
	if claims.Capability == "" {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidToken, claimCapability)
	}

	capability, err := domain.DecodeCapability(claims.Capability)
	if err != nil {
		return nil, err
	}

	var claim domain.RoleClaim
	if claims.ChannelClaim != "" {
		if claim, err = domain.DecodeRoleClaim(claims.ChannelClaim); err != nil {
			return nil, fmt.Errorf("%s: %w", claimChannel, err)
		}
	}

	grant := &domain.RealtimeGrant{
		ClientID:   claims.ClientID,
		KeyID:      keyID,
		Capability: capability,
		Claim:      claim,
	}
	if claims.IssuedAt != nil {
		grant.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		grant.ExpiresAt = claims.ExpiresAt.Time
	}
	return grant, nil
}

// InspectToken decodes a credential without verifying its signature.
func InspectToken(tokenString string) (map[string]interface{}, *domain.RealtimeGrant, error) {
	claims := &RealtimeClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	kid, _ := token.Header["kid"].(string)
	grant, err := grantFromClaims(kid, claims)
	if err != nil {
		return token.Header, nil, err
	}
	return token.Header, grant, nil
}
