package channel

import (
	"context"
	"errors"

	"github.com/dgellow/bxm/internal/authsync"
)

var (
	// ErrNoReceiver is returned when the Authority is not listening yet
	ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")

	// ErrRecipientBusy is returned when a Context cannot take another broadcast
	ErrRecipientBusy = errors.New("recipient queue full")

	// ErrClosed is returned when using an endpoint after Close
	ErrClosed = errors.New("channel closed")
)

// Handler is the Authority's receiving end. Fire-and-forget requests return a
// nil directive.
type Handler interface {
	HandleRequest(ctx context.Context, req authsync.Request) (authsync.Directive, error)
}

// Endpoint is one Context's connection to the Authority
type Endpoint interface {
	// Request sends req and waits for the Authority's directive
	Request(ctx context.Context, req authsync.Request) (authsync.Directive, error)

	// Notify sends req without waiting for an answer
	Notify(ctx context.Context, req authsync.Request) error

	// Subscribe delivers broadcasts until ctx is done
	Subscribe(ctx context.Context) (<-chan authsync.Broadcast, error)
}

// Recipient is an open Context as seen from the Authority
type Recipient interface {
	ID() string
	Name() string
	Post(ctx context.Context, b authsync.Broadcast) error
}

// Registry enumerates the currently open Contexts
type Registry interface {
	Recipients() []Recipient
}
