// Package mirror keeps the legacy persisted auth record: one key holding the
// Authority's latest credential, which Contexts follow.
//
// The record is last-writer-wins and carries no transaction. Single-authority
// sync over the channel supersedes it; mirror mode exists for deployments
// that still read the record directly.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/bxm/internal/identity"
)

const (
	// DefaultKey is the storage key of the record
	DefaultKey = "bxm:authState"

	// DefaultTTL matches the default custom token validity
	DefaultTTL = time.Hour
)

// ErrNotFound is returned when no live record exists under a key
var ErrNotFound = errors.New("auth record not found")

// Record is the persisted pointer to the Authority's session
type Record struct {
	Token     string           `json:"token" firestore:"token"`
	User      identity.Session `json:"user" firestore:"user"`
	Timestamp int64            `json:"timestamp" firestore:"timestamp"`
}

// Change is one update observed on a watched key. Record is nil when the
// record was removed.
type Change struct {
	Record *Record
}

// Store holds records by key
type Store interface {
	// Get returns ErrNotFound when the key is absent or expired
	Get(ctx context.Context, key string) (*Record, error)

	// Set writes rec under key; it stops being readable after ttl
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Watch delivers later changes to key until ctx is done
	Watch(ctx context.Context, key string) (<-chan Change, error)

	Close() error
}
