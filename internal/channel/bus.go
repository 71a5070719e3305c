package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/dgellow/bxm/internal/log"
	"github.com/google/uuid"
)

const busQueueSize = 16

// Ensure Bus is usable as a broadcast registry
var _ Registry = (*Bus)(nil)
var _ Endpoint = (*BusEndpoint)(nil)

// Bus is an in-process message bus between one Authority and many Contexts.
// Every message crosses it in wire form, so no value is shared by reference.
type Bus struct {
	mu        sync.RWMutex
	handler   Handler
	endpoints map[string]*BusEndpoint
}

// NewBus creates a bus with no listener
func NewBus() *Bus {
	return &Bus{
		endpoints: make(map[string]*BusEndpoint),
	}
}

// Listen installs the Authority's handler. Until then every request fails
// with ErrNoReceiver.
func (b *Bus) Listen(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Connect opens an endpoint for the named Context
func (b *Bus) Connect(name string) *BusEndpoint {
	ep := &BusEndpoint{
		bus:  b,
		id:   uuid.NewString(),
		name: name,
		subs: make(map[chan authsync.Broadcast]struct{}),
	}

	b.mu.Lock()
	b.endpoints[ep.id] = ep
	b.mu.Unlock()

	return ep
}

// Recipients returns every connected endpoint
func (b *Bus) Recipients() []Recipient {
	b.mu.RLock()
	defer b.mu.RUnlock()

	recipients := make([]Recipient, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		recipients = append(recipients, ep)
	}
	return recipients
}

func (b *Bus) dispatch(ctx context.Context, req authsync.Request) (authsync.Directive, error) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()

	if h == nil {
		return nil, ErrNoReceiver
	}

	decoded, err := roundTripRequest(req)
	if err != nil {
		return nil, err
	}

	directive, err := h.HandleRequest(ctx, decoded)
	if err != nil || directive == nil {
		return nil, err
	}
	return roundTripDirective(directive)
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, id)
}

// BusEndpoint is a Context's end of a Bus
type BusEndpoint struct {
	bus  *Bus
	id   string
	name string

	mu     sync.Mutex
	subs   map[chan authsync.Broadcast]struct{}
	closed bool
}

func (e *BusEndpoint) ID() string   { return e.id }
func (e *BusEndpoint) Name() string { return e.name }

// Request sends req to the Authority and waits for its directive
func (e *BusEndpoint) Request(ctx context.Context, req authsync.Request) (authsync.Directive, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	return e.bus.dispatch(ctx, req)
}

// Notify delivers req asynchronously. Only a missing listener is reported.
func (e *BusEndpoint) Notify(ctx context.Context, req authsync.Request) error {
	if e.isClosed() {
		return ErrClosed
	}

	e.bus.mu.RLock()
	listening := e.bus.handler != nil
	e.bus.mu.RUnlock()
	if !listening {
		return ErrNoReceiver
	}

	go func() {
		if _, err := e.bus.dispatch(context.WithoutCancel(ctx), req); err != nil {
			log.LogWarnWithFields("bus", "Failed to deliver message", map[string]any{
				"sender":  e.name,
				"command": req.Command(),
				"error":   err.Error(),
			})
		}
	}()
	return nil
}

// Subscribe delivers broadcasts posted to this endpoint until ctx is done
func (e *BusEndpoint) Subscribe(ctx context.Context) (<-chan authsync.Broadcast, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	ch := make(chan authsync.Broadcast, busQueueSize)
	e.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}()

	return ch, nil
}

// Post queues b for every subscriber of this endpoint
func (e *BusEndpoint) Post(_ context.Context, b authsync.Broadcast) error {
	decoded, err := roundTripBroadcast(b)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	for ch := range e.subs {
		select {
		case ch <- decoded:
		default:
			return fmt.Errorf("%w: %s", ErrRecipientBusy, e.name)
		}
	}
	return nil
}

// Close disconnects the endpoint and ends its subscriptions
func (e *BusEndpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
	e.mu.Unlock()

	e.bus.remove(e.id)
}

func (e *BusEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func roundTripRequest(req authsync.Request) (authsync.Request, error) {
	var m authsync.Message
	if err := roundTrip(authsync.EncodeRequest(req), &m); err != nil {
		return nil, err
	}
	return authsync.DecodeRequest(m)
}

func roundTripBroadcast(b authsync.Broadcast) (authsync.Broadcast, error) {
	var m authsync.Message
	if err := roundTrip(authsync.EncodeBroadcast(b), &m); err != nil {
		return nil, err
	}
	return authsync.DecodeBroadcast(m)
}

func roundTripDirective(d authsync.Directive) (authsync.Directive, error) {
	var r authsync.SyncResponse
	if err := roundTrip(authsync.EncodeDirective(d), &r); err != nil {
		return nil, err
	}
	return authsync.DecodeDirective(r), nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}
