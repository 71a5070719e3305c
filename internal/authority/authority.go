// Package authority is the background side of auth sync: it owns the
// source-of-truth identity session and arbitrates for every Context.
package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/channel"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/log"
	"github.com/dgellow/bxm/internal/metrics"
	"github.com/dgellow/bxm/internal/mirror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBroadcastConcurrency = 8
	DefaultDeliveryTimeout      = 5 * time.Second
)

// TokenIssuer exchanges an ID token for a short-lived custom token
type TokenIssuer interface {
	CreateCustomToken(ctx context.Context, idToken string) (string, error)
}

// Ensure Authority can serve the channel
var _ channel.Handler = (*Authority)(nil)

// Authority holds the only writable session
type Authority struct {
	client   identity.Client
	issuer   TokenIssuer
	registry channel.Registry
	metrics  *metrics.Metrics
	logger   log.Logger

	broadcastConcurrency int
	deliveryTimeout      time.Duration

	mirrorStore mirror.Store
	mirrorTTL   time.Duration
	mirrorKey   string
	writer      *mirror.Writer

	issuance singleflight.Group

	mu          sync.Mutex
	unsubscribe func()
	pending     *identity.State
	kick        chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup
}

// Option configures an Authority
type Option func(*Authority)

// WithBroadcastConcurrency bounds parallel broadcast deliveries
func WithBroadcastConcurrency(n int) Option {
	return func(a *Authority) {
		if n > 0 {
			a.broadcastConcurrency = n
		}
	}
}

// WithDeliveryTimeout bounds the delivery of one broadcast to one Context
func WithDeliveryTimeout(d time.Duration) Option {
	return func(a *Authority) {
		if d > 0 {
			a.deliveryTimeout = d
		}
	}
}

// WithMetrics records sync activity
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authority) {
		a.metrics = m
	}
}

// WithMirror also writes the legacy persisted record on every session
// transition.
func WithMirror(store mirror.Store, ttl time.Duration) Option {
	return func(a *Authority) {
		a.mirrorStore = store
		a.mirrorTTL = ttl
	}
}

// WithMirrorKey overrides the record key used in mirror mode
func WithMirrorKey(key string) Option {
	return func(a *Authority) {
		a.mirrorKey = key
	}
}

// New creates an Authority around its identity client
func New(client identity.Client, issuer TokenIssuer, registry channel.Registry, opts ...Option) *Authority {
	a := &Authority{
		client:               client,
		issuer:               issuer,
		registry:             registry,
		logger:               log.Named("background"),
		broadcastConcurrency: DefaultBroadcastConcurrency,
		deliveryTimeout:      DefaultDeliveryTimeout,
		kick:                 make(chan struct{}, 1),
		stop:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.mirrorStore != nil {
		writerOpts := []mirror.WriterOption{mirror.WithTTL(a.mirrorTTL)}
		if a.mirrorKey != "" {
			writerOpts = append(writerOpts, mirror.WithKey(a.mirrorKey))
		}
		a.writer = mirror.NewWriter(a.mirrorStore, a.mintForCurrent, writerOpts...)
	}
	return a
}

// Start observes the identity client. Transitions are logged, counted and,
// in mirror mode, written to the record.
func (a *Authority) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.runTransitions(context.WithoutCancel(ctx))

	prevUID := ""
	first := true
	unsubscribe := a.client.Subscribe(func(state identity.State) {
		uid := state.UID()
		if !first && uid == prevUID {
			return
		}

		fields := map[string]any{"from": prevUID, "to": uid}
		switch {
		case first:
			a.logger.Info("Authority settled", fields)
		case state.SignedIn():
			a.logger.Info("Authority session present", fields)
		default:
			a.logger.Info("Authority session absent", fields)
		}
		a.metrics.ObserveTransition(state.SignedIn())

		first = false
		prevUID = uid
		a.enqueue(state)
	})

	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
}

// Stop ends the observation started by Start
func (a *Authority) Stop() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()
	close(a.stop)
	a.wg.Wait()
}

// enqueue hands state to the transition worker, keeping only the latest
func (a *Authority) enqueue(state identity.State) {
	if a.writer == nil {
		return
	}
	a.mu.Lock()
	a.pending = &state
	a.mu.Unlock()

	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Authority) runTransitions(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		case <-a.kick:
		}

		a.mu.Lock()
		state := a.pending
		a.pending = nil
		a.mu.Unlock()

		if state == nil || a.writer == nil {
			continue
		}
		if err := a.writer.Apply(ctx, *state); err != nil {
			a.logger.Error("Failed to update auth record", map[string]any{"error": err.Error()})
		}
	}
}

// CompareState decides what a Context holding requestingUID must do. An empty
// uid means the Context is signed out. Issuance failures become NotSynced;
// this never fails across the channel.
func (a *Authority) CompareState(ctx context.Context, requestingUID string) authsync.Directive {
	session := a.client.CurrentSession()
	authorityUID := identity.UIDOf(session)

	switch {
	case authorityUID == requestingUID:
		return authsync.InSync{}
	case authorityUID == "":
		return authsync.SignOutRequired{}
	}

	token, err := a.mintCredential(ctx, authorityUID)
	if err != nil {
		a.logger.Error("Failed to mint credential for sync", map[string]any{
			"uid":   authorityUID,
			"error": err.Error(),
		})
		return authsync.NotSynced{Reason: err.Error()}
	}

	return authsync.CredentialOffer{Token: token, User: *session}
}

// mintCredential shares one issuance between concurrent requests for uid
func (a *Authority) mintCredential(ctx context.Context, uid string) (string, error) {
	v, err, shared := a.issuance.Do(uid, func() (any, error) {
		return a.mintForCurrent(context.WithoutCancel(ctx))
	})
	if shared {
		a.logger.Trace("Shared credential issuance", map[string]any{"uid": uid})
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Authority) mintForCurrent(ctx context.Context) (string, error) {
	start := time.Now()
	token, err := a.mint(ctx)
	a.metrics.ObserveIssuance(time.Since(start), err)
	return token, err
}

func (a *Authority) mint(ctx context.Context) (string, error) {
	idToken, err := a.client.IDToken(ctx)
	if err != nil {
		return "", fmt.Errorf("getting id token: %w", err)
	}
	token, err := a.issuer.CreateCustomToken(ctx, idToken)
	if err != nil {
		return "", err
	}
	return token, nil
}

// HandleSignOutRequest signs the Authority out, if it holds a session, and
// tells every Context. Repeated requests are harmless.
func (a *Authority) HandleSignOutRequest(ctx context.Context) error {
	if session := a.client.CurrentSession(); session != nil {
		a.logger.Info("Context requested sign-out", map[string]any{"uid": session.UID})
		if err := a.client.SignOut(ctx); err != nil {
			return fmt.Errorf("signing out authority: %w", err)
		}
	}
	a.BroadcastSignOut(ctx)
	return nil
}

// SignInWithToken signs the Authority in with a custom token handed over by
// the website, then offers the same token to every Context.
func (a *Authority) SignInWithToken(ctx context.Context, token string) error {
	session, err := a.client.SignInWithCustomToken(ctx, token)
	if err != nil {
		return fmt.Errorf("signing in authority: %w", err)
	}
	a.logger.Info("Signed in with website token", map[string]any{"uid": session.UID})
	a.BroadcastSignIn(ctx, token)
	return nil
}

// BroadcastSignOut tells every open Context to sign out. It returns the number
// of Contexts reached.
func (a *Authority) BroadcastSignOut(ctx context.Context) int {
	return a.broadcast(ctx, authsync.SignOutNotice{})
}

// BroadcastSignIn offers token to every open Context. It returns the number
// of Contexts reached.
func (a *Authority) BroadcastSignIn(ctx context.Context, token string) int {
	return a.broadcast(ctx, authsync.SignInNotice{Token: token})
}

// broadcast delivers b to every recipient. Failures are logged and skipped.
func (a *Authority) broadcast(ctx context.Context, b authsync.Broadcast) int {
	recipients := a.registry.Recipients()

	var (
		mu        sync.Mutex
		delivered int
	)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(a.broadcastConcurrency)

	for _, r := range recipients {
		g.Go(func() error {
			postCtx, cancel := context.WithTimeout(gctx, a.deliveryTimeout)
			defer cancel()

			err := r.Post(postCtx, b)
			a.metrics.ObserveBroadcast(b.Command(), err)
			if err != nil {
				a.logger.Debug("Broadcast not delivered", map[string]any{
					"command": b.Command(),
					"context": r.Name(),
					"error":   err.Error(),
				})
				return nil
			}

			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Debug("Broadcast sent", map[string]any{
		"command":    b.Command(),
		"recipients": len(recipients),
		"delivered":  delivered,
	})
	return delivered
}

// HandleRequest dispatches one request from a Context
func (a *Authority) HandleRequest(ctx context.Context, req authsync.Request) (authsync.Directive, error) {
	a.metrics.ObserveRequest(req.Command())

	switch r := req.(type) {
	case authsync.SyncAuthRequest:
		d := a.CompareState(ctx, r.ContextUID)
		a.metrics.ObserveDirective(authsync.DirectiveName(d))
		a.logger.Debug("Answered sync request", map[string]any{
			"contextUid": r.ContextUID,
			"directive":  authsync.DirectiveName(d),
		})
		return d, nil
	case authsync.SignOutRequest:
		return nil, a.HandleSignOutRequest(ctx)
	case authsync.TokenSignInRequest:
		return nil, a.SignInWithToken(ctx, r.Token)
	default:
		return nil, fmt.Errorf("%w: %s", authsync.ErrUnknownCommand, req.Command())
	}
}
