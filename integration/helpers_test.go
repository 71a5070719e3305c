package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/bxm/internal"
	"github.com/dgellow/bxm/internal/config"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "integration-signing-key-0123456789abcdef"

var (
	alice = identity.Session{UID: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob   = identity.Session{UID: "bob", Email: "bob@example.com", DisplayName: "Bob"}
)

// testConfig builds a config whose Authority serves its own token endpoint
// on baseURL.
func testConfig(t *testing.T, baseURL string, mutate ...func(*config.Config)) config.Config {
	t.Helper()
	cfg := config.Config{
		Authority: config.AuthorityConfig{BaseURL: baseURL},
		Identity:  config.IdentityConfig{SigningKey: testSigningKey},
		Backend:   config.BackendConfig{Serve: true},
		Surface: config.SurfaceConfig{
			SyncTimeout:   2 * time.Second,
			SettleTimeout: 2 * time.Second,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	config.ApplyDefaults(&cfg)
	require.NoError(t, config.ValidateConfig(&cfg))
	return cfg
}

// startAuthority serves a fresh Authority on a loopback port
func startAuthority(t *testing.T, mutate ...func(*config.Config)) (*internal.App, config.Config) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := testConfig(t, "http://"+ln.Addr().String(), mutate...)

	ctx := context.Background()
	app, err := internal.NewApp(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))

	srv := httptest.NewUnstartedServer(app.Handler())
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()

	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		app.Stop()
	})
	return app, cfg
}

// startContext attaches a Context process to the Authority
func startContext(t *testing.T, cfg config.Config, name string) *internal.ContextApp {
	t.Helper()
	ctx := context.Background()
	c, err := internal.NewContextApp(ctx, cfg, name)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(c.Stop)
	return c
}

// websiteSignIn mimics the website auth page handing a custom token back
func websiteSignIn(t *testing.T, cfg config.Config, session identity.Session) *http.Response {
	t.Helper()
	issuer, err := internal.NewIssuer(cfg.Identity)
	require.NoError(t, err)
	token, err := issuer.MintCustomToken(session)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{"token": token})
	require.NoError(t, err)
	resp, err := http.Post(cfg.Authority.BaseURL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func uidOf(c interface{ CurrentSession() *identity.Session }) string {
	return identity.UIDOf(c.CurrentSession())
}

func waitForUID(t *testing.T, want string, clients ...interface{ CurrentSession() *identity.Session }) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range clients {
			if uidOf(c) != want {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond, "expected every client to hold uid %q", want)
}
