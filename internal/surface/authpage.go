package surface

import (
	"errors"
	"net/url"
	"strings"
)

// DefaultAuthPath is the website page that hands out custom tokens
const DefaultAuthPath = "/token"

// AuthPageOptions shapes the sign-in page URL
type AuthPageOptions struct {
	// Path defaults to DefaultAuthPath; "/account" opens the account page
	Path string

	// AuthReturnURL is where the website sends the user afterwards
	AuthReturnURL string

	// AuthSourceTabID identifies the tab to restore once signed in
	AuthSourceTabID string
}

// AuthPageURL builds the website sign-in URL for authDomain. A bare domain is
// served over https.
func AuthPageURL(authDomain string, opts AuthPageOptions) (string, error) {
	if authDomain == "" {
		return "", errors.New("no auth domain configured")
	}

	base := authDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("auth domain has no host")
	}

	path := opts.Path
	if path == "" {
		path = DefaultAuthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path

	q := url.Values{}
	if opts.AuthReturnURL != "" {
		q.Set("authReturnUrl", opts.AuthReturnURL)
	}
	if opts.AuthSourceTabID != "" {
		q.Set("authSourceTabId", opts.AuthSourceTabID)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
