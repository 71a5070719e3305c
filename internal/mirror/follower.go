package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/log"
)

// Follower keeps a Context's identity client in line with the record
type Follower struct {
	store  Store
	client identity.Client
	key    string
	logger log.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// FollowerOption configures a Follower
type FollowerOption func(*Follower)

// WithFollowKey overrides the record key
func WithFollowKey(key string) FollowerOption {
	return func(f *Follower) {
		f.key = key
	}
}

// NewFollower creates a follower for client, logging under name
func NewFollower(name string, store Store, client identity.Client, opts ...FollowerOption) *Follower {
	f := &Follower{
		store:  store,
		client: client,
		key:    DefaultKey,
		logger: log.Named(name),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start waits for the identity client to settle, applies the current record
// and then follows changes until Stop.
func (f *Follower) Start(ctx context.Context) error {
	if _, err := f.client.Settled(ctx); err != nil {
		return err
	}

	rec, err := f.store.Get(ctx, f.key)
	switch {
	case errors.Is(err, ErrNotFound):
		f.apply(ctx, nil)
	case err != nil:
		f.logger.Warn("Failed to read auth record", map[string]any{"error": err.Error()})
	default:
		f.apply(ctx, rec)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	changes, err := f.store.Watch(watchCtx, f.key)
	if err != nil {
		cancel()
		return err
	}

	prevUID := ""
	if s := f.client.CurrentSession(); s != nil {
		prevUID = s.UID
	}
	unsubscribe := f.client.Subscribe(func(state identity.State) {
		wasSignedIn := prevUID != ""
		prevUID = state.UID()
		if wasSignedIn && !state.SignedIn() {
			// Removal runs outside the subscriber callback
			go f.removeRecord(watchCtx)
		}
	})

	f.mu.Lock()
	f.cancel = cancel
	f.unsubscribe = unsubscribe
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for change := range changes {
			f.apply(watchCtx, change.Record)
		}
	}()

	return nil
}

// Stop ends the watch
func (f *Follower) Stop() {
	f.mu.Lock()
	cancel, unsubscribe := f.cancel, f.unsubscribe
	f.cancel, f.unsubscribe = nil, nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

func (f *Follower) apply(ctx context.Context, rec *Record) {
	current := identity.UIDOf(f.client.CurrentSession())

	if rec == nil {
		if current == "" {
			return
		}
		f.logger.Info("Auth record removed, signing out", map[string]any{"uid": current})
		if err := f.client.SignOut(ctx); err != nil {
			f.logger.Error("Failed to sign out", map[string]any{"error": err.Error()})
		}
		return
	}

	if rec.User.UID == current {
		return
	}

	f.logger.Info("Signing in from auth record", map[string]any{"uid": rec.User.UID})
	if _, err := f.client.SignInWithCustomToken(ctx, rec.Token); err != nil {
		f.logger.Warn("Failed to sign in from auth record", map[string]any{"error": err.Error()})
		if identity.IsCredentialRejected(err) {
			f.removeRecord(ctx)
		}
	}
}

func (f *Follower) removeRecord(ctx context.Context) {
	if err := f.store.Remove(ctx, f.key); err != nil {
		f.logger.Warn("Failed to remove auth record", map[string]any{"error": err.Error()})
	}
}
