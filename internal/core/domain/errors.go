package domain

import "errors"

var (
	ErrUserNotFound       = errors.New("User not found")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidKeyMaterial = errors.New("key material must have the form <keyId>:<secret>")
	ErrMissingClientID    = errors.New("client identity is required")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrNoCredential       = errors.New("no realtime credential issued")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrUpstream           = errors.New("upstream service error")
)
