package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/ioutil"
	"github.com/dgellow/bxm/internal/log"
	"github.com/dgellow/bxm/internal/urlutil"
)

const (
	// MessagePath receives requests from Contexts
	MessagePath = "/runtime/message"

	// EventsPath streams broadcasts to Contexts
	EventsPath = "/runtime/events"
)

var _ Endpoint = (*HTTPEndpoint)(nil)

// HTTPEndpoint connects a Context to an Authority served over HTTP
type HTTPEndpoint struct {
	baseURL    string
	name       string
	httpClient *http.Client
}

// HTTPEndpointOption configures an HTTPEndpoint
type HTTPEndpointOption func(*HTTPEndpoint)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) HTTPEndpointOption {
	return func(e *HTTPEndpoint) {
		e.httpClient = c
	}
}

// NewHTTPEndpoint creates an endpoint for the named Context
func NewHTTPEndpoint(baseURL, name string, opts ...HTTPEndpointOption) *HTTPEndpoint {
	e := &HTTPEndpoint{
		baseURL:    baseURL,
		name:       name,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request posts req and decodes the directive
func (e *HTTPEndpoint) Request(ctx context.Context, req authsync.Request) (authsync.Directive, error) {
	body, err := e.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp authsync.SyncResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding sync response: %w", err)
	}
	return authsync.DecodeDirective(resp), nil
}

// Notify posts req and ignores the reply body
func (e *HTTPEndpoint) Notify(ctx context.Context, req authsync.Request) error {
	body, err := e.post(ctx, req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

func (e *HTTPEndpoint) post(ctx context.Context, req authsync.Request) (io.ReadCloser, error) {
	endpoint, err := urlutil.JoinPath(e.baseURL, MessagePath)
	if err != nil {
		return nil, fmt.Errorf("invalid authority url: %w", err)
	}

	data, err := json.Marshal(authsync.EncodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-BXM-Sender", e.name)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNoReceiver, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		resp.Body.Close()
		return nil, ErrNoReceiver
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := ioutil.ReadLimited(resp.Body, 1024)
		resp.Body.Close()
		return nil, fmt.Errorf("authority returned %s: %s", resp.Status, msg)
	}
	return resp.Body, nil
}

// Subscribe opens the event stream and decodes broadcasts until ctx is done
// or the stream ends.
func (e *HTTPEndpoint) Subscribe(ctx context.Context) (<-chan authsync.Broadcast, error) {
	endpoint, err := urlutil.JoinPath(e.baseURL, EventsPath)
	if err != nil {
		return nil, fmt.Errorf("invalid authority url: %w", err)
	}
	endpoint += "?context=" + url.QueryEscape(e.name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoReceiver, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: event stream returned %s", ErrNoReceiver, resp.Status)
	}

	out := make(chan authsync.Broadcast, hubQueueSize)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}

			var m authsync.Message
			if err := json.Unmarshal([]byte(data), &m); err != nil {
				log.LogWarnWithFields("channel", "Dropping malformed event", map[string]any{
					"context": e.name,
					"error":   err.Error(),
				})
				continue
			}
			b, err := authsync.DecodeBroadcast(m)
			if err != nil {
				log.LogDebugWithFields("channel", "Ignoring event", map[string]any{
					"context": e.name,
					"command": m.Command,
				})
				continue
			}

			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
