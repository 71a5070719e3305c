package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgellow/bxm/internal/log"
)

// Ensure LocalClient implements Client
var _ Client = (*LocalClient)(nil)

// LocalClient is an in-process identity client. Credentials are verified by an
// Exchanger; the session can be restored from a Persistence on start.
type LocalClient struct {
	exchanger   Exchanger
	persistence Persistence
	logger      log.Logger

	mu       sync.Mutex
	session  *Session
	idToken  string
	settled  bool
	settledC chan struct{}

	// emitMu serializes state commits so subscribers observe them in order
	emitMu  sync.Mutex
	subs    map[uint64]func(State)
	nextSub uint64
}

// LocalClientOption configures a LocalClient
type LocalClientOption func(*LocalClient)

// WithPersistence sets where the session survives restarts
func WithPersistence(p Persistence) LocalClientOption {
	return func(c *LocalClient) {
		c.persistence = p
	}
}

// NewLocalClient creates an identity client for the named surface
func NewLocalClient(name string, exchanger Exchanger, opts ...LocalClientOption) *LocalClient {
	c := &LocalClient{
		exchanger: exchanger,
		logger:    log.Named(name),
		settledC:  make(chan struct{}),
		subs:      make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore loads the persisted session, if any, and settles the client. It is a
// no-op once the client has settled.
func (c *LocalClient) Restore(ctx context.Context) error {
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()
	if settled {
		return nil
	}

	var restored *Session
	var idToken string

	if c.persistence != nil {
		persisted, err := c.persistence.Load(ctx)
		if err != nil {
			c.logger.Warn("Failed to load persisted session", map[string]any{"error": err.Error()})
		} else if persisted != nil {
			session, err := c.exchanger.VerifyIDToken(ctx, persisted.IDToken)
			if err != nil {
				c.logger.Info("Persisted session is no longer valid", map[string]any{"error": err.Error()})
				if err := c.persistence.Clear(ctx); err != nil {
					c.logger.Warn("Failed to clear persisted session", map[string]any{"error": err.Error()})
				}
			} else {
				restored = &session
				idToken = persisted.IDToken
			}
		}
	}

	c.commit(ctx, restored, idToken, false)
	c.logger.Debug("Identity client settled", map[string]any{"uid": UIDOf(restored)})
	return nil
}

// CurrentSession returns a copy of the current session
func (c *LocalClient) CurrentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// IDToken returns the current ID token, refreshing it when it no longer verifies
func (c *LocalClient) IDToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session.clone()
	token := c.idToken
	c.mu.Unlock()

	if session == nil {
		return "", ErrNoCurrentUser
	}

	if _, err := c.exchanger.VerifyIDToken(ctx, token); err == nil {
		return token, nil
	}

	fresh, err := c.exchanger.RefreshIDToken(ctx, *session)
	if err != nil {
		return "", fmt.Errorf("refreshing id token: %w", err)
	}

	c.mu.Lock()
	if UIDOf(c.session) == session.UID {
		c.idToken = fresh
	}
	c.mu.Unlock()

	return fresh, nil
}

// SignInWithCustomToken exchanges token for a session. On failure the current
// state is left untouched.
func (c *LocalClient) SignInWithCustomToken(ctx context.Context, token string) (Session, error) {
	session, idToken, err := c.exchanger.ExchangeCustomToken(ctx, token)
	if err != nil {
		return Session{}, err
	}

	c.commit(ctx, &session, idToken, true)
	return session, nil
}

// SignOut drops the current session
func (c *LocalClient) SignOut(ctx context.Context) error {
	c.commit(ctx, nil, "", true)
	return nil
}

// Subscribe registers fn for state changes
func (c *LocalClient) Subscribe(fn func(State)) func() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	c.mu.Lock()
	settled := c.settled
	current := c.session.clone()
	c.mu.Unlock()

	if settled {
		fn(State{Session: current})
	}

	return func() {
		c.emitMu.Lock()
		defer c.emitMu.Unlock()
		delete(c.subs, id)
	}
}

// Settled waits for the first settled state
func (c *LocalClient) Settled(ctx context.Context) (State, error) {
	select {
	case <-c.settledC:
		return State{Session: c.CurrentSession()}, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// commit installs next as the current session and notifies subscribers when
// the uid changed or the client settles for the first time.
func (c *LocalClient) commit(ctx context.Context, next *Session, idToken string, persist bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if persist && c.persistence != nil {
		var err error
		if next == nil {
			err = c.persistence.Clear(ctx)
		} else {
			err = c.persistence.Save(ctx, Persisted{Session: *next, IDToken: idToken})
		}
		if err != nil {
			c.logger.Warn("Failed to update persisted session", map[string]any{"error": err.Error()})
		}
	}

	c.mu.Lock()
	prev := c.session
	wasSettled := c.settled
	c.session = next.clone()
	c.idToken = idToken
	if !c.settled {
		c.settled = true
		close(c.settledC)
	}
	c.mu.Unlock()

	if wasSettled && UIDOf(prev) == UIDOf(next) {
		return
	}

	c.logger.Debug("Identity state changed", map[string]any{
		"from": UIDOf(prev),
		"to":   UIDOf(next),
	})

	for _, fn := range c.subs {
		fn(State{Session: next.clone()})
	}
}
