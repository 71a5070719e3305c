package authsync

import (
	"encoding/json"
	"testing"

	"github.com/dgellow/bxm/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest_ContextUID(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"signed out context sends null", SyncAuthRequest{}, `{"command":"bxm:syncAuth","contextUid":null}`},
		{"signed in context sends uid", SyncAuthRequest{ContextUID: "u1"}, `{"command":"bxm:syncAuth","contextUid":"u1"}`},
		{"sign out has no uid", SignOutRequest{}, `{"command":"bxm:signOut"}`},
		{"token sign in", TokenSignInRequest{Token: "t"}, `{"command":"bxm:signInWithToken","token":"t"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(EncodeRequest(tt.req))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"command":"bxm:syncAuth","contextUid":null}`), &m))
	req, err := DecodeRequest(m)
	require.NoError(t, err)
	assert.Equal(t, SyncAuthRequest{}, req)

	_, err = DecodeRequest(Message{Command: "bxm:reboot"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = DecodeRequest(Message{Command: CommandSignInWithToken})
	assert.Error(t, err, "token sign-in without a token is rejected")
}

func TestDecodeBroadcast(t *testing.T) {
	b, err := DecodeBroadcast(Message{Command: CommandSignInWithToken, Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, SignInNotice{Token: "tok"}, b)

	b, err = DecodeBroadcast(Message{Command: CommandSignOut})
	require.NoError(t, err)
	assert.Equal(t, SignOutNotice{}, b)

	_, err = DecodeBroadcast(Message{Command: CommandSyncAuth})
	assert.ErrorIs(t, err, ErrUnknownCommand, "sync requests are never broadcast")
}

func TestDecodeDirective(t *testing.T) {
	user := identity.Session{UID: "u1", Email: "a@example.com"}

	tests := []struct {
		name string
		body string
		want Directive
	}{
		{"in sync", `{"needsSync":false}`, InSync{}},
		{"sign out", `{"needsSync":true,"signOut":true}`, SignOutRequired{}},
		{"credential offer", `{"needsSync":true,"customToken":"tok","user":{"uid":"u1","email":"a@example.com"}}`, CredentialOffer{Token: "tok", User: user}},
		{"error", `{"needsSync":false,"error":"backend down"}`, NotSynced{Reason: "backend down"}},
		{"needs sync without action", `{"needsSync":true}`, NotSynced{Reason: "sync response carried no action"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r SyncResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			assert.Equal(t, tt.want, DecodeDirective(r))
		})
	}
}

func TestEncodeDirective_OmitsIDToken(t *testing.T) {
	offer := CredentialOffer{Token: "tok", User: identity.Session{UID: "u1"}}
	data, err := json.Marshal(EncodeDirective(offer))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, true, raw["needsSync"])
	assert.Equal(t, "tok", raw["customToken"])
	assert.NotContains(t, raw, "idToken")
	assert.NotContains(t, raw, "signOut")
}

func TestDirectiveName(t *testing.T) {
	assert.Equal(t, "in_sync", DirectiveName(InSync{}))
	assert.Equal(t, "sign_out_required", DirectiveName(SignOutRequired{}))
	assert.Equal(t, "credential_offer", DirectiveName(CredentialOffer{}))
	assert.Equal(t, "not_synced", DirectiveName(NotSynced{}))
	assert.Equal(t, "unknown", DirectiveName(nil))
}
