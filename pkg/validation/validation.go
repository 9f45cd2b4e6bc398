package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// IdentityRegex validates user identity format
	IdentityRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateIdentity validates a user identity
func ValidateIdentity(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > 100 {
		return fmt.Errorf("identity is too long (max 100 characters)")
	}
	if !IdentityRegex.MatchString(identity) {
		return fmt.Errorf("identity contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidatePassword validates password
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	if len(password) > 128 {
		return fmt.Errorf("password is too long (max 128 characters)")
	}
	return nil
}

// ValidateMessageContent validates chat message content
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is required")
	}
	if len(content) > 10000 {
		return fmt.Errorf("message content is too long (max 10000 characters)")
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message content contains invalid characters")
	}
	return nil
}

// ValidateRole validates a user role
func ValidateRole(role string) error {
	switch role {
	case "patient", "doctor", "admin":
		return nil
	default:
		return fmt.Errorf("invalid role: must be patient, doctor or admin")
	}
}
