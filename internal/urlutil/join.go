package urlutil

import (
	"fmt"
	"net"
	"net/url"
)

// JoinPath appends path elements to an absolute base URL. Query and fragment
// of base are kept.
func JoinPath(base string, elems ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", base)
	}
	return u.JoinPath(elems...).String(), nil
}

// IsLoopback reports whether rawURL points at localhost
func IsLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
