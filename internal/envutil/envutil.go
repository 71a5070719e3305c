package envutil

import (
	"os"
	"strings"
)

// ModeVar selects the runtime mode
const ModeVar = "BXM_ENV"

// IsDev reports whether BXM_ENV selects development mode, where plain-http
// non-loopback authority URLs are tolerated.
func IsDev() bool {
	switch strings.ToLower(os.Getenv(ModeVar)) {
	case "development", "dev":
		return true
	}
	return false
}

// First returns the value of the first set variable among keys
func First(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
