package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/channel"
	"github.com/dgellow/bxm/internal/identity"
	jsonwriter "github.com/dgellow/bxm/internal/json"
	"github.com/dgellow/bxm/internal/log"
	"github.com/dgellow/bxm/internal/metrics"
	"github.com/dgellow/bxm/internal/sse"
)

// DefaultPingInterval keeps idle event streams open through proxies
const DefaultPingInterval = 15 * time.Second

type boundHandler struct {
	channel.Handler
}

// RuntimeHandler receives requests from Contexts on the message path. Until a
// handler is bound it answers 503, which Contexts read as "no receiver".
type RuntimeHandler struct {
	handler atomic.Pointer[boundHandler]
}

// NewRuntimeHandler creates a runtime handler, optionally bound to h
func NewRuntimeHandler(h channel.Handler) *RuntimeHandler {
	rh := &RuntimeHandler{}
	if h != nil {
		rh.Bind(h)
	}
	return rh
}

// Bind starts dispatching requests to h. A nil h unbinds.
func (rh *RuntimeHandler) Bind(h channel.Handler) {
	if h == nil {
		rh.handler.Store(nil)
		return
	}
	rh.handler.Store(&boundHandler{h})
}

func (rh *RuntimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	bound := rh.handler.Load()
	if bound == nil {
		jsonwriter.WriteServiceUnavailable(w, "authority not listening")
		return
	}

	var msg authsync.Message
	if err := jsonwriter.Decode(r, &msg); err != nil {
		jsonwriter.WriteBadRequest(w, err.Error())
		return
	}

	req, err := authsync.DecodeRequest(msg)
	if err != nil {
		log.LogDebugWithFields("runtime", "Rejected message", map[string]any{
			"sender":  r.Header.Get("X-BXM-Sender"),
			"command": msg.Command,
			"error":   err.Error(),
		})
		jsonwriter.WriteBadRequest(w, err.Error())
		return
	}

	directive, err := bound.HandleRequest(r.Context(), req)
	if err != nil {
		log.LogWarnWithFields("runtime", "Request failed", map[string]any{
			"sender":  r.Header.Get("X-BXM-Sender"),
			"command": req.Command(),
			"error":   err.Error(),
		})
		writeRequestError(w, err)
		return
	}

	if directive == nil {
		_ = jsonwriter.Write(w, struct{}{})
		return
	}
	_ = jsonwriter.Write(w, authsync.EncodeDirective(directive))
}

func writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCustomToken),
		errors.Is(err, identity.ErrCustomTokenExpired),
		errors.Is(err, authsync.ErrUnknownCommand):
		jsonwriter.WriteBadRequest(w, err.Error())
	default:
		jsonwriter.WriteInternalServerError(w, err.Error())
	}
}

// EventsHandler streams broadcasts to Contexts registered on the hub
type EventsHandler struct {
	hub          *channel.Hub
	metrics      *metrics.Metrics
	pingInterval time.Duration
}

// EventsOption configures an EventsHandler
type EventsOption func(*EventsHandler)

// WithPingInterval overrides the keepalive interval
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		h.pingInterval = d
	}
}

// WithEventsMetrics counts connected Contexts
func WithEventsMetrics(m *metrics.Metrics) EventsOption {
	return func(h *EventsHandler) {
		h.metrics = m
	}
}

// NewEventsHandler creates a handler that registers each stream on hub
func NewEventsHandler(hub *channel.Hub, opts ...EventsOption) *EventsHandler {
	h := &EventsHandler{
		hub:          hub,
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	name := r.URL.Query().Get("context")
	if name == "" {
		jsonwriter.WriteBadRequest(w, "context query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonwriter.WriteInternalServerError(w, "streaming not supported")
		return
	}

	id, events, unregister := h.hub.Register(name)
	defer unregister()
	h.metrics.ContextConnected()
	defer h.metrics.ContextDisconnected()

	logger := log.Named("events").With(map[string]any{"context": name, "id": id})
	logger.Info("Context connected", nil)
	defer logger.Info("Context disconnected", nil)

	sse.Prepare(w, flusher)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-events:
			if err := sse.WriteMessage(w, flusher, msg); err != nil {
				logger.Debug("Event write failed", map[string]any{"error": err.Error()})
				return
			}
		case <-ticker.C:
			if err := sse.WritePing(w, flusher); err != nil {
				return
			}
		}
	}
}

// TokenSignIn signs the Authority in with a custom token
type TokenSignIn interface {
	SignInWithToken(ctx context.Context, token string) error
}

// TokenHandler accepts the custom token the website auth page hands back
type TokenHandler struct {
	signIn TokenSignIn
}

// NewTokenHandler creates a token handler
func NewTokenHandler(signIn TokenSignIn) *TokenHandler {
	return &TokenHandler{signIn: signIn}
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := jsonwriter.Decode(r, &req); err != nil {
		jsonwriter.WriteBadRequest(w, err.Error())
		return
	}
	if req.Token == "" {
		jsonwriter.WriteBadRequest(w, "token is required")
		return
	}

	if err := h.signIn.SignInWithToken(r.Context(), req.Token); err != nil {
		log.LogWarnWithFields("auth", "Website token sign-in failed", map[string]any{
			"error": err.Error(),
		})
		writeRequestError(w, err)
		return
	}
	_ = jsonwriter.Write(w, map[string]string{"status": "signed_in"})
}
