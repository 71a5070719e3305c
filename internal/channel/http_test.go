package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEndpoint_Request(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, MessagePath, r.URL.Path)
		assert.Equal(t, "popup", r.Header.Get("X-BXM-Sender"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"needsSync":true,"signOut":true}`)
	}))
	defer srv.Close()

	ep := NewHTTPEndpoint(srv.URL, "popup")
	d, err := ep.Request(context.Background(), authsync.SyncAuthRequest{ContextUID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, authsync.SignOutRequired{}, d)
}

func TestHTTPEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not listening", http.StatusServiceUnavailable, ErrNoReceiver},
		{"server error", http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTPEndpoint(srv.URL, "popup").Notify(context.Background(), authsync.SignOutRequest{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPEndpoint_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPEndpoint(url, "popup").Request(context.Background(), authsync.SyncAuthRequest{})
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestHTTPEndpoint_Subscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EventsPath, r.URL.Path)
		assert.Equal(t, "sidepanel", r.URL.Query().Get("context"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"command\":\"bxm:syncAuth\"}\n\n")
		fmt.Fprint(w, "data: {\"command\":\"bxm:signInWithToken\",\"token\":\"tok\"}\n\n")
		fmt.Fprint(w, "data: {\"command\":\"bxm:signOut\"}\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := NewHTTPEndpoint(srv.URL, "sidepanel").Subscribe(ctx)
	require.NoError(t, err)

	var got []authsync.Broadcast
	for b := range ch {
		got = append(got, b)
	}
	assert.Equal(t, []authsync.Broadcast{
		authsync.SignInNotice{Token: "tok"},
		authsync.SignOutNotice{},
	}, got)
}
