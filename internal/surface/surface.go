// Package surface is the Context side of auth sync. Each UI surface owns one
// identity client and converges on the Authority's session.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/channel"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/log"
)

// Kind names a UI surface
type Kind string

const (
	KindPopup     Kind = "popup"
	KindOptions   Kind = "options"
	KindSidepanel Kind = "sidepanel"
	KindPage      Kind = "page"
)

// Valid reports whether k is a known surface kind
func (k Kind) Valid() bool {
	switch k {
	case KindPopup, KindOptions, KindSidepanel, KindPage:
		return true
	}
	return false
}

const (
	DefaultSyncTimeout      = 5 * time.Second
	DefaultSettleTimeout    = 10 * time.Second
	DefaultResubscribeDelay = time.Second

	maxResubscribeDelay = 30 * time.Second
)

// ErrNotSettled is returned when the identity client did not report a state
// within the settle timeout.
var ErrNotSettled = errors.New("identity client did not settle")

// Surface is one Context
type Surface struct {
	name     string
	client   identity.Client
	endpoint channel.Endpoint
	logger   log.Logger

	syncTimeout      time.Duration
	settleTimeout    time.Duration
	resubscribeDelay time.Duration

	// authorityDriven is non-zero while a sign-out ordered by the Authority
	// is being applied
	authorityDriven atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	unsubscribers []func()
}

// Option configures a Surface
type Option func(*Surface)

// WithSyncTimeout bounds the sync request sent on load
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Surface) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// WithSettleTimeout bounds the wait for the identity client's first state
func WithSettleTimeout(d time.Duration) Option {
	return func(s *Surface) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

// WithResubscribeDelay sets the first wait before subscribing again after the
// broadcast stream is lost. Later attempts back off up to 30s.
func WithResubscribeDelay(d time.Duration) Option {
	return func(s *Surface) {
		if d > 0 {
			s.resubscribeDelay = d
		}
	}
}

// New creates a Surface named name talking to the Authority over endpoint
func New(name string, client identity.Client, endpoint channel.Endpoint, opts ...Option) *Surface {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Surface{
		name:             name,
		client:           client,
		endpoint:         endpoint,
		logger:           log.Named(name),
		syncTimeout:      DefaultSyncTimeout,
		settleTimeout:    DefaultSettleTimeout,
		resubscribeDelay: DefaultResubscribeDelay,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the surface name
func (s *Surface) Name() string {
	return s.name
}

// Initialize starts the surface: state logging, then the sync on load, then
// the broadcast listener, then local sign-out reporting.
func (s *Surface) Initialize(ctx context.Context) error {
	s.logStateChanges()

	if _, err := s.SyncOnLoad(ctx); err != nil {
		s.logger.Warn("Sync on load skipped", map[string]any{"error": err.Error()})
	}

	if err := s.ListenForBroadcasts(ctx); err != nil {
		return fmt.Errorf("listening for broadcasts: %w", err)
	}

	s.NotifyOnLocalSignOut()
	return nil
}

func (s *Surface) logStateChanges() {
	s.track(s.client.Subscribe(func(state identity.State) {
		if state.SignedIn() {
			s.logger.Info("Auth state: signed in", map[string]any{
				"uid":   state.Session.UID,
				"email": state.Session.Email,
			})
			return
		}
		s.logger.Info("Auth state: signed out", nil)
	}))
}

// SyncOnLoad waits for the first settled state, asks the Authority to compare
// and applies its directive. An unreachable Authority counts as InSync.
func (s *Surface) SyncOnLoad(ctx context.Context) (authsync.Directive, error) {
	settleCtx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	state, err := s.client.Settled(settleCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w within %s", ErrNotSettled, s.settleTimeout)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	directive, err := s.endpoint.Request(reqCtx, authsync.SyncAuthRequest{ContextUID: state.UID()})
	cancel()
	if err != nil {
		s.logger.Debug("Authority unavailable, keeping local state", map[string]any{
			"error": err.Error(),
		})
		return authsync.InSync{}, nil
	}

	s.apply(ctx, directive)
	return directive, nil
}

func (s *Surface) apply(ctx context.Context, d authsync.Directive) {
	switch d := d.(type) {
	case authsync.InSync:
		s.logger.Debug("Already in sync with authority", nil)
	case authsync.SignOutRequired:
		s.logger.Info("Authority is signed out, signing out", nil)
		s.signOutForAuthority(ctx)
	case authsync.CredentialOffer:
		s.logger.Info("Signing in to match authority", map[string]any{"uid": d.User.UID})
		s.signIn(ctx, d.Token)
	case authsync.NotSynced:
		s.logger.Warn("Authority could not sync", map[string]any{"reason": d.Reason})
	default:
		s.logger.Warn("Ignoring unknown directive", map[string]any{"directive": fmt.Sprintf("%T", d)})
	}
}

// signIn attempts one sign-in. Failures are logged and not retried.
func (s *Surface) signIn(ctx context.Context, token string) {
	session, err := s.client.SignInWithCustomToken(ctx, token)
	if err != nil {
		s.logger.Error("Failed to sign in with credential", map[string]any{
			"error":    err.Error(),
			"rejected": identity.IsCredentialRejected(err),
		})
		return
	}
	s.logger.Debug("Signed in", map[string]any{"uid": session.UID})
}

func (s *Surface) signOutForAuthority(ctx context.Context) {
	s.authorityDriven.Add(1)
	defer s.authorityDriven.Add(-1)

	if err := s.client.SignOut(ctx); err != nil {
		s.logger.Error("Failed to sign out", map[string]any{"error": err.Error()})
	}
}

// ListenForBroadcasts applies the Authority's notices until Close or ctx is
// done. An Authority that is not listening yet, or a stream that ends, is
// retried in the background.
func (s *Surface) ListenForBroadcasts(ctx context.Context) error {
	listenCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	broadcasts, err := s.endpoint.Subscribe(listenCtx)
	switch {
	case errors.Is(err, channel.ErrNoReceiver):
		s.logger.Debug("Authority not listening yet, will subscribe later", map[string]any{
			"error": err.Error(),
		})
	case err != nil:
		stop()
		cancel()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		defer cancel()
		s.listen(listenCtx, broadcasts)
	}()
	return nil
}

// listen drains broadcasts and resubscribes whenever the stream ends. After a
// gap it asks the Authority to compare again, since notices may have been
// missed.
func (s *Surface) listen(ctx context.Context, broadcasts <-chan authsync.Broadcast) {
	delay := s.resubscribeDelay
	for {
		if broadcasts != nil {
			for b := range broadcasts {
				s.handleBroadcast(ctx, b)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := s.endpoint.Subscribe(ctx)
		switch {
		case err == nil:
			s.logger.Info("Subscribed to authority broadcasts", nil)
			broadcasts = next
			delay = s.resubscribeDelay
			s.resync(ctx)
		case errors.Is(err, channel.ErrClosed) || ctx.Err() != nil:
			return
		default:
			s.logger.Debug("Authority still unavailable", map[string]any{
				"error": err.Error(),
				"retry": delay.String(),
			})
			broadcasts = nil
			delay = min(delay*2, maxResubscribeDelay)
		}
	}
}

// resync sends a fresh sync request with the current uid and applies the answer
func (s *Surface) resync(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	directive, err := s.endpoint.Request(reqCtx, authsync.SyncAuthRequest{
		ContextUID: identity.UIDOf(s.client.CurrentSession()),
	})
	cancel()
	if err != nil {
		s.logger.Debug("Resync skipped", map[string]any{"error": err.Error()})
		return
	}
	s.apply(ctx, directive)
}

func (s *Surface) handleBroadcast(ctx context.Context, b authsync.Broadcast) {
	switch b := b.(type) {
	case authsync.SignInNotice:
		s.logger.Info("Authority signed in, following", nil)
		s.signIn(ctx, b.Token)
	case authsync.SignOutNotice:
		if s.client.CurrentSession() == nil {
			return
		}
		s.logger.Info("Authority signed out, following", nil)
		s.signOutForAuthority(ctx)
	default:
		s.logger.Warn("Ignoring unknown broadcast", map[string]any{"command": b.Command()})
	}
}

// NotifyOnLocalSignOut reports sign-outs the user made in this surface to the
// Authority. Sign-outs the Authority ordered are not reported back.
func (s *Surface) NotifyOnLocalSignOut() {
	prevUID := ""
	s.track(s.client.Subscribe(func(state identity.State) {
		wasSignedIn := prevUID != ""
		prevUID = state.UID()

		if !wasSignedIn || state.SignedIn() {
			return
		}
		if s.authorityDriven.Load() > 0 {
			return
		}

		s.logger.Info("Local sign-out, notifying authority", nil)
		// Subscribers run under the identity client's emit lock
		go s.notifySignOut()
	}))
}

func (s *Surface) notifySignOut() {
	ctx, cancel := context.WithTimeout(s.ctx, s.syncTimeout)
	defer cancel()
	if err := s.endpoint.Notify(ctx, authsync.SignOutRequest{}); err != nil {
		s.logger.Debug("Could not notify authority", map[string]any{"error": err.Error()})
	}
}

func (s *Surface) track(unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribers = append(s.unsubscribers, unsubscribe)
}

// Close stops listening and drops every subscription
func (s *Surface) Close() {
	s.mu.Lock()
	unsubscribers := s.unsubscribers
	s.unsubscribers = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}
