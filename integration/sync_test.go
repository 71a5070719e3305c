package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAdoptsAuthoritySessionOnLoad(t *testing.T) {
	app, cfg := startAuthority(t)

	resp := websiteSignIn(t, cfg, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	waitForUID(t, "alice", app.Client())

	popup := startContext(t, cfg, "popup")
	waitForUID(t, "alice", popup.Client())
	assert.Equal(t, "alice@example.com", popup.Client().CurrentSession().Email)
}

func TestSignInBroadcastReachesOpenContexts(t *testing.T) {
	app, cfg := startAuthority(t)

	popup := startContext(t, cfg, "popup")
	sidepanel := startContext(t, cfg, "sidepanel")
	waitForUID(t, "", popup.Client(), sidepanel.Client())

	resp := websiteSignIn(t, cfg, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitForUID(t, "alice", app.Client(), popup.Client(), sidepanel.Client())
}

func TestContextSignOutPropagates(t *testing.T) {
	app, cfg := startAuthority(t)
	websiteSignIn(t, cfg, alice)
	waitForUID(t, "alice", app.Client())

	popup := startContext(t, cfg, "popup")
	options := startContext(t, cfg, "options")
	waitForUID(t, "alice", popup.Client(), options.Client())

	require.NoError(t, popup.Client().SignOut(context.Background()))

	waitForUID(t, "", app.Client(), popup.Client(), options.Client())
}

func TestSwitchingUsersReplacesEverySession(t *testing.T) {
	app, cfg := startAuthority(t)
	websiteSignIn(t, cfg, alice)

	page := startContext(t, cfg, "page")
	waitForUID(t, "alice", app.Client(), page.Client())

	websiteSignIn(t, cfg, bob)
	waitForUID(t, "bob", app.Client(), page.Client())
}

func TestRuntimeMessageWireFormat(t *testing.T) {
	_, cfg := startAuthority(t)
	websiteSignIn(t, cfg, alice)

	post := func(body string) (int, map[string]any) {
		resp, err := http.Post(cfg.Authority.BaseURL+"/runtime/message", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &out), string(data))
		return resp.StatusCode, out
	}

	t.Run("signed out context gets a credential", func(t *testing.T) {
		status, out := post(`{"command":"` + authsync.CommandSyncAuth + `","contextUid":null}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, out["needsSync"])
		assert.NotEmpty(t, out["customToken"])
		user, ok := out["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice", user["uid"])
	})

	t.Run("matching context is in sync", func(t *testing.T) {
		status, out := post(`{"command":"` + authsync.CommandSyncAuth + `","contextUid":"alice"}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, out["needsSync"])
	})

	t.Run("unknown command", func(t *testing.T) {
		status, _ := post(`{"command":"bxm:reboot"}`)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestBackendEndpointMintsForIDToken(t *testing.T) {
	app, cfg := startAuthority(t)
	websiteSignIn(t, cfg, alice)
	waitForUID(t, "alice", app.Client())

	idToken, err := app.Client().IDToken(context.Background())
	require.NoError(t, err)

	client, err := backend.NewClient(cfg.Backend.APIURL)
	require.NoError(t, err)
	token, err := client.CreateCustomToken(context.Background(), idToken)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	t.Run("rejects a forged id token", func(t *testing.T) {
		body, _ := json.Marshal(backend.CommandRequest{Command: backend.CommandCreateCustomToken})
		req, err := http.NewRequest(http.MethodPost, cfg.Authority.BaseURL+backend.Path, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer forged")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	_, cfg := startAuthority(t)
	startContext(t, cfg, "popup")

	resp, err := http.Get(cfg.Authority.BaseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["contexts"])

	metricsResp, err := http.Get(cfg.Authority.BaseURL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	data, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bxm_")
}
