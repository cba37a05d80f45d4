package utils

import (
	"strings"
	"unicode"
)

// SanitizeString drops control characters other than newlines and tabs and
// trims surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString shortens s to at most maxLen runes, marking the cut with
// "...".
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// NormalizeEmail lowercases and trims an email so it can serve as a user key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
