package emailutil

import (
	"net/mail"
	"strings"
)

// Normalize lowercases and trims an email where it enters the system. Tokens
// carry a session's email as given.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Valid reports whether email is a bare address without a display name
func Valid(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email)
}
