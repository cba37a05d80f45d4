package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserKeyLength     = 254
	MaxChannelKeyLength  = 64
	MaxDisplayNameLength = 100
	MaxMessageTextLength = 4000
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// ChannelKeyRegex validates channel key format
	ChannelKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	userKeyRegex = regexp.MustCompile(`^[^\s:]+$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > MaxUserKeyLength {
		return fmt.Errorf("email is too long (max %d characters)", MaxUserKeyLength)
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateUserKey validates an authorization-service user key.
func ValidateUserKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("user key is required")
	}
	if len(key) > MaxUserKeyLength {
		return fmt.Errorf("user key is too long (max %d characters)", MaxUserKeyLength)
	}
	if !userKeyRegex.MatchString(key) {
		return fmt.Errorf("user key must not contain whitespace or ':'")
	}
	return nil
}

// ValidateChannelKey validates a bare channel key such as "general".
func ValidateChannelKey(key string) error {
	if key == "" {
		return fmt.Errorf("channel key is required")
	}
	if len(key) > MaxChannelKeyLength {
		return fmt.Errorf("channel key is too long (max %d characters)", MaxChannelKeyLength)
	}
	if !ChannelKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid channel key format")
	}
	return nil
}

// ValidateChannelToken validates a "<prefix>:<key>" channel reference and
// returns the key part.
func ValidateChannelToken(token string) (string, error) {
	prefix, key, ok := strings.Cut(token, ":")
	if !ok || prefix == "" {
		return "", fmt.Errorf("channel must have the form <prefix>:<key>")
	}
	if err := ValidateChannelKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// ValidateDisplayName validates a user display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name contains invalid characters")
	}
	return ValidateStringLength(name, 1, MaxDisplayNameLength, "name")
}

// ValidateMessageText validates chat message text
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message text contains invalid characters")
	}
	return ValidateStringLength(text, 1, MaxMessageTextLength, "message text")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
