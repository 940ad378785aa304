// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLen = 36
	DefaultName    = "Guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// ConnID identifies a single transport connection.
type ConnID string

// ValidateUsername reports whether a display name can be used as is.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

// SanitizeUsername trims, falls back to DefaultName and cuts at MaxUsernameLen bytes
// without splitting a rune.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	switch ValidateUsername(username) {
	case ErrUsernameEmpty:
		return DefaultName
	case ErrUsernameTooLong:
		cut := MaxUsernameLen
		for cut > 0 && !utf8.RuneStart(username[cut]) {
			cut--
		}
		return username[:cut]
	}
	return username
}
