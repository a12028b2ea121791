package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest operator password accepted by hash-password
const MinPasswordLength = 12

// ValidatePassword checks an operator password before it is hashed
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	if n > 128 {
		return fmt.Errorf("password must be at most 128 characters long")
	}
	if strings.TrimSpace(password) != password {
		return fmt.Errorf("password must not start or end with whitespace")
	}
	if isRepeatingChar(password) {
		return fmt.Errorf("password cannot be a single repeating character")
	}
	return nil
}

// isRepeatingChar checks if the password is just the same character repeated
func isRepeatingChar(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	for _, r := range s[size:] {
		if r != first {
			return false
		}
	}
	return true
}
