// Package backend exchanges an ID token for a custom token at the backend
// token-issuing service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/bxm/internal/ioutil"
	"github.com/dgellow/bxm/internal/log"
	"github.com/dgellow/bxm/internal/urlutil"
	"golang.org/x/oauth2"
)

const (
	// Path is where the backend accepts commands
	Path = "/backend-manager"

	// CommandCreateCustomToken asks the backend to mint a custom token
	CommandCreateCustomToken = "user:create-custom-token"

	// DefaultTimeout bounds one issuance call
	DefaultTimeout = 10 * time.Second
)

// ErrIssuance is returned when the backend did not produce a token
var ErrIssuance = errors.New("custom token issuance failed")

// CommandRequest is the body posted to the backend
type CommandRequest struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload"`
}

// CommandResponse is the body returned for token issuance
type CommandResponse struct {
	Response struct {
		Token string `json:"token"`
	} `json:"response"`
}

// Client talks to the backend token service
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the base HTTP client used under the bearer transport
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout bounds each issuance call
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// NewClient creates a client for the backend rooted at apiURL
func NewClient(apiURL string, opts ...ClientOption) (*Client, error) {
	endpoint, err := urlutil.JoinPath(apiURL, Path)
	if err != nil {
		return nil, fmt.Errorf("invalid backend api url: %w", err)
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateCustomToken authenticates with idToken and returns a fresh custom token
func (c *Client) CreateCustomToken(ctx context.Context, idToken string) (string, error) {
	if idToken == "" {
		return "", fmt.Errorf("%w: no id token", ErrIssuance)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(CommandRequest{
		Command: CommandCreateCustomToken,
		Payload: map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("encoding backend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	// oauth2 attaches the bearer header on top of the configured transport
	hc := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: idToken, TokenType: "Bearer"}),
	)

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := ioutil.ReadLimited(resp.Body, 1024)
		log.LogWarnWithFields("backend", "Token issuance rejected", map[string]any{
			"status": resp.StatusCode,
			"body":   msg,
		})
		return "", fmt.Errorf("%w: backend returned %s", ErrIssuance, resp.Status)
	}

	var out CommandResponse
	if err := ioutil.DecodeLimited(resp.Body, 64<<10, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	if out.Response.Token == "" {
		return "", fmt.Errorf("%w: response carried no token", ErrIssuance)
	}
	return out.Response.Token, nil
}
