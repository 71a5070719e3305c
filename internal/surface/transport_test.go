package surface

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/bxm/internal/authority"
	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/backend"
	"github.com/dgellow/bxm/internal/channel"
	"github.com/dgellow/bxm/internal/credential"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_AuthorityNotRunning(t *testing.T) {
	iss, err := credential.NewIssuer(testSecret)
	require.NoError(t, err)
	client := newClient(t, iss, "popup", &alice)

	ep := channel.NewHTTPEndpoint("http://127.0.0.1:1", "popup")
	s := New("popup", client, ep,
		WithSyncTimeout(time.Second),
		WithSettleTimeout(time.Second),
		WithResubscribeDelay(10*time.Millisecond))
	t.Cleanup(s.Close)

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, "alice", identity.UIDOf(client.CurrentSession()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "alice", identity.UIDOf(client.CurrentSession()))
}

func TestListenForBroadcasts_ResubscribesAfterStreamEnds(t *testing.T) {
	iss, err := credential.NewIssuer(testSecret)
	require.NoError(t, err)
	token, err := iss.MintCustomToken(alice)
	require.NoError(t, err)

	var streams atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(channel.EventsPath, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		sse.Prepare(w, flusher)
		if streams.Add(1) == 1 {
			// first stream drops right away
			return
		}
		assert.NoError(t, sse.WriteMessage(w, flusher, authsync.EncodeBroadcast(authsync.SignInNotice{Token: token})))
		<-r.Context().Done()
	})
	mux.HandleFunc(channel.MessagePath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := newClient(t, iss, "sidepanel", nil)
	s := New("sidepanel", client, channel.NewHTTPEndpoint(srv.URL, "sidepanel"),
		WithSyncTimeout(time.Second),
		WithResubscribeDelay(10*time.Millisecond))
	t.Cleanup(func() {
		srv.CloseClientConnections()
		s.Close()
	})

	require.NoError(t, s.ListenForBroadcasts(context.Background()))

	assert.Eventually(t, func() bool {
		return identity.UIDOf(client.CurrentSession()) == "alice"
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, streams.Load(), int32(2))
}

func TestListenForBroadcasts_SubscribesOnceAuthorityIsUp(t *testing.T) {
	iss, err := credential.NewIssuer(testSecret)
	require.NoError(t, err)
	token, err := iss.MintCustomToken(alice)
	require.NoError(t, err)

	var up atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc(channel.EventsPath, func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		flusher := w.(http.Flusher)
		sse.Prepare(w, flusher)
		assert.NoError(t, sse.WriteMessage(w, flusher, authsync.EncodeBroadcast(authsync.SignInNotice{Token: token})))
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := newClient(t, iss, "options", nil)
	s := New("options", client, channel.NewHTTPEndpoint(srv.URL, "options"),
		WithSyncTimeout(time.Second),
		WithResubscribeDelay(10*time.Millisecond))
	t.Cleanup(func() {
		srv.CloseClientConnections()
		s.Close()
	})

	require.NoError(t, s.ListenForBroadcasts(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.Nil(t, client.CurrentSession())

	up.Store(true)
	assert.Eventually(t, func() bool {
		return identity.UIDOf(client.CurrentSession()) == "alice"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncOnLoad_BackendFailureKeepsLocalState(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(backendSrv.Close)

	iss, err := credential.NewIssuer(testSecret)
	require.NoError(t, err)
	tokens, err := backend.NewClient(backendSrv.URL)
	require.NoError(t, err)

	bus := channel.NewBus()
	bus.Listen(authority.New(newClient(t, iss, "background", &alice), tokens, bus))

	bob := identity.Session{UID: "bob", Email: "bob@example.com"}
	client := newClient(t, iss, "popup", &bob)
	ep := bus.Connect("popup")
	s := New("popup", client, ep, WithSyncTimeout(2*time.Second), WithSettleTimeout(time.Second))
	t.Cleanup(func() {
		s.Close()
		ep.Close()
	})

	d, err := s.SyncOnLoad(context.Background())
	require.NoError(t, err)
	require.IsType(t, authsync.NotSynced{}, d)
	assert.NotEmpty(t, d.(authsync.NotSynced).Reason)
	assert.Equal(t, "bob", identity.UIDOf(client.CurrentSession()))
}

// slowNotifyEndpoint holds every Notify until release is closed
type slowNotifyEndpoint struct {
	channel.Endpoint
	release  chan struct{}
	notified atomic.Int32
}

func (e *slowNotifyEndpoint) Notify(ctx context.Context, req authsync.Request) error {
	e.notified.Add(1)
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	return nil
}

func TestNotifyOnLocalSignOut_DoesNotBlockClient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &alice)
	client := newClient(t, h.iss, "popup", &alice)
	bus := h.bus.Connect("popup")
	ep := &slowNotifyEndpoint{Endpoint: bus, release: make(chan struct{})}
	s := New("popup", client, ep, WithSyncTimeout(5*time.Second))
	t.Cleanup(func() {
		close(ep.release)
		s.Close()
		bus.Close()
	})
	s.NotifyOnLocalSignOut()

	token, err := h.iss.MintCustomToken(alice)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, client.SignOut(ctx))
		_, err := client.SignInWithCustomToken(ctx, token)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("identity client blocked behind the sign-out notice")
	}
	assert.Eventually(t, func() bool { return ep.notified.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "alice", identity.UIDOf(client.CurrentSession()))
}
