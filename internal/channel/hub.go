package channel

import (
	"context"
	"sync"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/google/uuid"
)

const hubQueueSize = 16

// Ensure Hub is usable as a broadcast registry
var _ Registry = (*Hub)(nil)

// Hub tracks Contexts connected over the HTTP event stream
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
}

type hubClient struct {
	id     string
	name   string
	events chan authsync.Message
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*hubClient),
	}
}

// Register adds a Context and returns its id, its event queue and a function
// that removes it again.
func (h *Hub) Register(name string) (string, <-chan authsync.Message, func()) {
	c := &hubClient{
		id:     uuid.NewString(),
		name:   name,
		events: make(chan authsync.Message, hubQueueSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	var once sync.Once
	return c.id, c.events, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, c.id)
			h.mu.Unlock()
		})
	}
}

// Len returns the number of connected Contexts
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Recipients returns every connected Context
func (h *Hub) Recipients() []Recipient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := make([]Recipient, 0, len(h.clients))
	for _, c := range h.clients {
		recipients = append(recipients, c)
	}
	return recipients
}

func (c *hubClient) ID() string   { return c.id }
func (c *hubClient) Name() string { return c.name }

// Post queues b on the client's stream, waiting at most until ctx is done
func (c *hubClient) Post(ctx context.Context, b authsync.Broadcast) error {
	select {
	case c.events <- authsync.EncodeBroadcast(b):
		return nil
	case <-ctx.Done():
		return ErrRecipientBusy
	}
}
