package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/bxm/internal/authority"
	"github.com/dgellow/bxm/internal/backend"
	"github.com/dgellow/bxm/internal/channel"
	"github.com/dgellow/bxm/internal/config"
	"github.com/dgellow/bxm/internal/credential"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/log"
	"github.com/dgellow/bxm/internal/metrics"
	"github.com/dgellow/bxm/internal/mirror"
	"github.com/dgellow/bxm/internal/server"
	"github.com/dgellow/bxm/internal/surface"
	"google.golang.org/api/option"
)

const shutdownTimeout = 30 * time.Second

// App is the Authority process: the identity client, the HTTP channel that
// Contexts connect to and, optionally, the backend token endpoint.
type App struct {
	config     config.Config
	client     *identity.LocalClient
	authority  *authority.Authority
	hub        *channel.Hub
	store      mirror.Store
	httpServer *server.HTTPServer
	handler    http.Handler
}

// NewApp builds the Authority process with all dependencies
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	log.LogInfoWithFields("bxm", "Building authority", map[string]any{
		"addr": cfg.Authority.Addr,
		"mode": cfg.Authority.Mode,
	})

	issuer, err := NewIssuer(cfg.Identity)
	if err != nil {
		return nil, err
	}

	client := identity.NewLocalClient(cfg.Authority.Name, issuer,
		identity.WithPersistence(NewPersistence(cfg.Identity, cfg.Authority.Name)))

	tokens, err := backend.NewClient(cfg.Backend.APIURL, backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	reg, m := metrics.NewRegistry()
	hub := channel.NewHub()

	opts := []authority.Option{
		authority.WithBroadcastConcurrency(cfg.Authority.Broadcast.Concurrency),
		authority.WithDeliveryTimeout(cfg.Authority.Broadcast.Timeout),
		authority.WithMetrics(m),
	}

	var store mirror.Store
	if cfg.Authority.Mode == config.ModeMirror {
		store, err = OpenMirrorStore(ctx, cfg.Mirror)
		if err != nil {
			return nil, fmt.Errorf("failed to open mirror store: %w", err)
		}
		opts = append(opts,
			authority.WithMirror(store, cfg.Mirror.TTL),
			authority.WithMirrorKey(cfg.Mirror.Key))
	}

	a := authority.New(client, tokens, hub, opts...)

	mux := http.NewServeMux()
	runtime := server.NewRuntimeHandler(a)
	mux.Handle(channel.MessagePath, runtime)
	mux.Handle(channel.EventsPath, server.NewEventsHandler(hub, server.WithEventsMetrics(m)))
	mux.Handle("/auth/token", server.NewTokenHandler(a))
	mux.Handle("/health", server.NewHealthHandler(hub))
	mux.Handle("/metrics", metrics.HandlerFor(reg))
	if cfg.Backend.Serve {
		mux.Handle(backend.Path, backend.NewHandler(issuer))
		log.LogInfoWithFields("bxm", "Serving backend token endpoint", map[string]any{
			"path": backend.Path,
		})
	}

	handler := server.ChainMiddleware(mux,
		server.NewRecoverMiddleware("http"),
		server.NewLoggerMiddleware("http"),
		server.NewRequestIDMiddleware(),
		server.NewCORSMiddleware(cfg.Authority.AllowedOrigins),
	)

	return &App{
		config:     cfg,
		client:     client,
		authority:  a,
		hub:        hub,
		store:      store,
		httpServer: server.NewHTTPServer(handler, cfg.Authority.Addr),
		handler:    handler,
	}, nil
}

// Handler returns the complete HTTP handler
func (app *App) Handler() http.Handler {
	return app.handler
}

// Authority returns the Authority
func (app *App) Authority() *authority.Authority {
	return app.authority
}

// Client returns the Authority's identity client
func (app *App) Client() *identity.LocalClient {
	return app.client
}

// Start restores the persisted session and starts observing it. It does not
// serve HTTP.
func (app *App) Start(ctx context.Context) error {
	if err := app.client.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	app.authority.Start(ctx)
	return nil
}

// Stop stops the Authority and releases the mirror store
func (app *App) Stop() {
	app.authority.Stop()
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.LogWarnWithFields("bxm", "Closing mirror store failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// Run starts and manages the complete Authority lifecycle
func (app *App) Run(ctx context.Context) error {
	log.LogInfoWithFields("bxm", "Starting authority", map[string]any{
		"addr": app.config.Authority.Addr,
	})

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop()

	return serveUntilSignal(ctx, app.httpServer)
}

// BackendApp serves only the token endpoint
type BackendApp struct {
	httpServer *server.HTTPServer
}

// NewBackendApp builds a standalone backend token server
func NewBackendApp(cfg config.Config, addr string) (*BackendApp, error) {
	issuer, err := NewIssuer(cfg.Identity)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(backend.Path, backend.NewHandler(issuer))
	mux.Handle("/health", server.NewHealthHandler(nil))

	handler := server.ChainMiddleware(mux,
		server.NewRecoverMiddleware("backend"),
		server.NewLoggerMiddleware("backend"),
		server.NewRequestIDMiddleware(),
	)
	return &BackendApp{httpServer: server.NewHTTPServer(handler, addr)}, nil
}

// Run serves until ctx is done or a signal arrives
func (b *BackendApp) Run(ctx context.Context) error {
	return serveUntilSignal(ctx, b.httpServer)
}

// ContextApp is one Context process: an identity client following the
// Authority over HTTP and, in mirror mode, the persisted record.
type ContextApp struct {
	name     string
	client   *identity.LocalClient
	surface  *surface.Surface
	store    mirror.Store
	follower *mirror.Follower
}

// NewContextApp builds the Context named name
func NewContextApp(ctx context.Context, cfg config.Config, name string) (*ContextApp, error) {
	issuer, err := NewIssuer(cfg.Identity)
	if err != nil {
		return nil, err
	}

	client := identity.NewLocalClient(name, issuer,
		identity.WithPersistence(NewPersistence(cfg.Identity, name)))
	endpoint := channel.NewHTTPEndpoint(cfg.Surface.AuthorityURL, name)

	app := &ContextApp{
		name:   name,
		client: client,
		surface: surface.New(name, client, endpoint,
			surface.WithSyncTimeout(cfg.Surface.SyncTimeout),
			surface.WithSettleTimeout(cfg.Surface.SettleTimeout)),
	}

	if cfg.Authority.Mode == config.ModeMirror {
		if cfg.Mirror.Storage == config.StorageMemory {
			log.LogWarnWithFields("bxm", "Memory mirror storage is not shared between processes", map[string]any{
				"context": name,
			})
		}
		app.store, err = OpenMirrorStore(ctx, cfg.Mirror)
		if err != nil {
			return nil, fmt.Errorf("failed to open mirror store: %w", err)
		}
		app.follower = mirror.NewFollower(name, app.store, client, mirror.WithFollowKey(cfg.Mirror.Key))
	}
	return app, nil
}

// Client returns the Context's identity client
func (c *ContextApp) Client() *identity.LocalClient {
	return c.client
}

// Start restores the session and brings the Context in line with the
// Authority.
func (c *ContextApp) Start(ctx context.Context) error {
	if err := c.client.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if err := c.surface.Initialize(ctx); err != nil {
		return err
	}
	if c.follower != nil {
		if err := c.follower.Start(ctx); err != nil {
			return fmt.Errorf("failed to follow mirror record: %w", err)
		}
	}
	return nil
}

// Stop detaches the Context
func (c *ContextApp) Stop() {
	if c.follower != nil {
		c.follower.Stop()
	}
	c.surface.Close()
	if c.store != nil {
		_ = c.store.Close()
	}
}

// Run keeps the Context attached until ctx is done or a signal arrives
func (c *ContextApp) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.LogInfoWithFields("bxm", "Context closing", map[string]any{"context": c.name})
	return nil
}

// NewIssuer creates the credential issuer from identity settings
func NewIssuer(cfg config.IdentityConfig) (*credential.Issuer, error) {
	issuer, err := credential.NewIssuer([]byte(cfg.SigningKey),
		credential.WithIssuer(cfg.Issuer),
		credential.WithCustomTokenTTL(cfg.CustomTokenTTL),
		credential.WithIDTokenTTL(cfg.IDTokenTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential issuer: %w", err)
	}
	return issuer, nil
}

// NewPersistence picks the session persistence for the named surface
func NewPersistence(cfg config.IdentityConfig, name string) identity.Persistence {
	if cfg.Persistence == config.PersistenceKeyring {
		return identity.NewKeyringPersistence(cfg.KeyringService, name)
	}
	return identity.NewMemoryPersistence()
}

// OpenMirrorStore connects to the configured record store
func OpenMirrorStore(ctx context.Context, cfg *config.MirrorConfig) (mirror.Store, error) {
	if cfg == nil {
		return mirror.NewMemoryStore(), nil
	}

	switch cfg.Storage {
	case config.StorageRedis:
		log.LogInfoWithFields("mirror", "Using Redis storage", map[string]any{
			"addr": cfg.RedisAddr,
			"db":   cfg.RedisDB,
		})
		return mirror.NewRedisStore(ctx, cfg.RedisAddr, string(cfg.RedisPassword), cfg.RedisDB)
	case config.StorageFirestore:
		log.LogInfoWithFields("mirror", "Using Firestore storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		return mirror.NewFirestoreStore(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, opts...)
	default:
		log.LogInfoWithFields("mirror", "Using in-memory storage", map[string]any{})
		return mirror.NewMemoryStore(), nil
	}
}

func serveUntilSignal(ctx context.Context, httpServer *server.HTTPServer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	var runErr error
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("bxm", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		runErr = err
		log.LogErrorWithFields("bxm", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-ctx.Done():
		shutdownReason = "context cancelled"
		log.LogInfoWithFields("bxm", "Context cancelled, shutting down", nil)
	}

	log.LogInfoWithFields("bxm", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("bxm", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("bxm", "Shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return runErr
}
