package credential

import (
	"context"
	"testing"
	"time"

	"github.com/dgellow/bxm/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-signing-secret-0123456789abcdef")

var alice = identity.Session{
	UID:           "alice",
	Email:         "alice@example.com",
	DisplayName:   "Alice",
	PhotoURL:      "https://example.com/alice.png",
	EmailVerified: true,
}

func TestNewIssuer_ShortSecret(t *testing.T) {
	_, err := NewIssuer([]byte("short"))
	assert.Error(t, err)
}

func TestCustomToken(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	token, err := iss.MintCustomToken(alice)
	require.NoError(t, err)

	got, err := iss.VerifyCustomToken(token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = iss.VerifyIDToken(context.Background(), token)
	assert.ErrorIs(t, err, identity.ErrInvalidIDToken, "custom and id tokens are not interchangeable")
}

func TestVerifyCustomToken_Failures(t *testing.T) {
	now := time.Now()
	past, err := NewIssuer(testSecret, WithClock(func() time.Time { return now.Add(-2 * time.Hour) }))
	require.NoError(t, err)
	other, err := NewIssuer([]byte("another-signing-secret-0123456789ab"))
	require.NoError(t, err)
	foreign, err := NewIssuer(testSecret, WithIssuer("someone-else"))
	require.NoError(t, err)
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	expired, err := past.MintCustomToken(alice)
	require.NoError(t, err)
	wrongKey, err := other.MintCustomToken(alice)
	require.NoError(t, err)
	wrongIssuer, err := foreign.MintCustomToken(alice)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"expired", expired, identity.ErrCustomTokenExpired},
		{"wrong key", wrongKey, identity.ErrInvalidCustomToken},
		{"wrong issuer", wrongIssuer, identity.ErrInvalidCustomToken},
		{"garbage", "not-a-token", identity.ErrInvalidCustomToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.VerifyCustomToken(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, identity.IsCredentialRejected(err))
		})
	}
}

func TestExchangeCustomToken(t *testing.T) {
	ctx := context.Background()
	iss, err := NewIssuer(testSecret, WithCustomTokenTTL(time.Minute), WithIDTokenTTL(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, iss.CustomTokenTTL())

	token, err := iss.MintCustomToken(alice)
	require.NoError(t, err)

	session, idToken, err := iss.ExchangeCustomToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, alice, session)

	verified, err := iss.VerifyIDToken(ctx, idToken)
	require.NoError(t, err)
	assert.Equal(t, alice, verified)

	refreshed, err := iss.RefreshIDToken(ctx, session)
	require.NoError(t, err)
	assert.NotEqual(t, idToken, refreshed, "every token carries a unique id")
}

func TestMint_RequiresUID(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)
	_, err = iss.MintCustomToken(identity.Session{Email: "x@example.com"})
	assert.Error(t, err)
}

func TestCustomToken_KeepsEmailAsGiven(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	mixed := alice
	mixed.Email = "Alice.Smith@Example.com"
	token, err := iss.MintCustomToken(mixed)
	require.NoError(t, err)

	got, err := iss.VerifyCustomToken(token)
	require.NoError(t, err)
	assert.Equal(t, mixed.Email, got.Email)

	session, idToken, err := iss.ExchangeCustomToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, mixed, session)

	fromID, err := iss.VerifyIDToken(context.Background(), idToken)
	require.NoError(t, err)
	assert.Equal(t, mixed.Email, fromID.Email)
}
