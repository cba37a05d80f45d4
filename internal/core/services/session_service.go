package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

// SessionClaims is the payload of a signed-in browser session.
type SessionClaims struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// SessionService issues and verifies session tokens. It is the ambient
// identity provider of the HTTP API.
type SessionService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.IdentityProvider = (*SessionService)(nil)

func NewSessionService(secret string, ttl time.Duration) *SessionService {
	return &SessionService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session for the given profile. The email is the user key.
func (s *SessionService) Issue(email, name, avatarURL string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", domain.ErrMissingClientID
	}

	now := s.now()
	claims := &SessionClaims{
		Email:     email,
		Name:      name,
		AvatarURL: avatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *SessionService) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredSession
		}
		return nil, ErrInvalidSession
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid && claims.Email != "" {
		return claims, nil
	}

	return nil, ErrInvalidSession
}

// Authenticate resolves a session token into the caller's identity.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no session", ErrInvalidSession)
	}
	claims, err := s.Validate(token)
	if err != nil {
		return nil, err
	}
	return &domain.Identity{
		Key:       claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
	}, nil
}
