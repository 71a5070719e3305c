package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger accepts custom tokens of the form "custom:<uid>" and issues
// "id:<uid>" ID tokens.
type fakeExchanger struct {
	mu       sync.Mutex
	revoked  map[string]bool
	refreshN int
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{revoked: make(map[string]bool)}
}

func (f *fakeExchanger) ExchangeCustomToken(_ context.Context, token string) (Session, string, error) {
	uid, ok := strings.CutPrefix(token, "custom:")
	if !ok || uid == "" {
		return Session{}, "", ErrInvalidCustomToken
	}
	return Session{UID: uid, Email: uid + "@example.com"}, "id:" + uid, nil
}

func (f *fakeExchanger) RefreshIDToken(_ context.Context, s Session) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshN++
	delete(f.revoked, "id:"+s.UID)
	return "id:" + s.UID, nil
}

func (f *fakeExchanger) VerifyIDToken(_ context.Context, token string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, ok := strings.CutPrefix(token, "id:")
	if !ok || f.revoked[token] {
		return Session{}, ErrInvalidIDToken
	}
	return Session{UID: uid, Email: uid + "@example.com"}, nil
}

func (f *fakeExchanger) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[token] = true
}

func TestLocalClient_SettledAndSubscribe(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient("popup", newFakeExchanger())

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err := c.Settled(waitCtx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded, "an unrestored client has not settled")

	var states []State
	unsubscribe := c.Subscribe(func(s State) { states = append(states, s) })
	assert.Empty(t, states, "no callback before settling")

	require.NoError(t, c.Restore(ctx))
	state, err := c.Settled(ctx)
	require.NoError(t, err)
	assert.False(t, state.SignedIn())

	_, err = c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)
	_, err = c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))

	require.Len(t, states, 3, "same-uid sign-ins do not notify")
	assert.Equal(t, "", states[0].UID())
	assert.Equal(t, "alice", states[1].UID())
	assert.Equal(t, "", states[2].UID())

	unsubscribe()
	_, err = c.SignInWithCustomToken(ctx, "custom:bob")
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestLocalClient_SubscribeAfterSettleFiresImmediately(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient("options", newFakeExchanger())
	require.NoError(t, c.Restore(ctx))
	_, err := c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)

	var got []string
	c.Subscribe(func(s State) { got = append(got, s.UID()) })
	assert.Equal(t, []string{"alice"}, got)
}

func TestLocalClient_RejectedTokenKeepsState(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient("popup", newFakeExchanger())
	require.NoError(t, c.Restore(ctx))
	_, err := c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)

	_, err = c.SignInWithCustomToken(ctx, "garbage")
	assert.True(t, IsCredentialRejected(err))
	assert.Equal(t, "alice", UIDOf(c.CurrentSession()))
}

func TestLocalClient_CurrentSessionIsACopy(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient("popup", newFakeExchanger())
	require.NoError(t, c.Restore(ctx))
	_, err := c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)

	s := c.CurrentSession()
	s.UID = "mallory"
	assert.Equal(t, "alice", c.CurrentSession().UID)
}

func TestLocalClient_IDToken(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchanger()
	c := NewLocalClient("background", ex)
	require.NoError(t, c.Restore(ctx))

	_, err := c.IDToken(ctx)
	assert.ErrorIs(t, err, ErrNoCurrentUser)

	_, err = c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)

	tok, err := c.IDToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id:alice", tok)
	assert.Equal(t, 0, ex.refreshN)

	ex.revoke("id:alice")
	tok, err = c.IDToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id:alice", tok)
	assert.Equal(t, 1, ex.refreshN, "an id token that no longer verifies is refreshed")
}

func TestLocalClient_Restore(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchanger()
	p := NewMemoryPersistence()

	first := NewLocalClient("popup", ex, WithPersistence(p))
	require.NoError(t, first.Restore(ctx))
	_, err := first.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)

	second := NewLocalClient("popup", ex, WithPersistence(p))
	require.NoError(t, second.Restore(ctx))
	assert.Equal(t, "alice", UIDOf(second.CurrentSession()))

	require.NoError(t, second.SignOut(ctx))
	persisted, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

func TestLocalClient_RestoreDropsInvalidSession(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchanger()
	p := NewMemoryPersistence()
	require.NoError(t, p.Save(ctx, Persisted{Session: Session{UID: "alice"}, IDToken: "id:alice"}))
	ex.revoke("id:alice")

	c := NewLocalClient("popup", ex, WithPersistence(p))
	require.NoError(t, c.Restore(ctx))
	assert.Nil(t, c.CurrentSession())

	persisted, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

type failingPersistence struct{}

func (failingPersistence) Load(context.Context) (*Persisted, error) { return nil, errors.New("locked") }
func (failingPersistence) Save(context.Context, Persisted) error    { return errors.New("locked") }
func (failingPersistence) Clear(context.Context) error              { return errors.New("locked") }

func TestLocalClient_PersistenceFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient("popup", newFakeExchanger(), WithPersistence(failingPersistence{}))
	require.NoError(t, c.Restore(ctx))

	_, err := c.SignInWithCustomToken(ctx, "custom:alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", UIDOf(c.CurrentSession()))
}
