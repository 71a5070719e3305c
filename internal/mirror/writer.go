package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/log"
)

// MintFunc issues a fresh custom token for the Authority's current session
type MintFunc func(ctx context.Context) (string, error)

// Writer mirrors the Authority's session into the record
type Writer struct {
	store Store
	mint  MintFunc
	key   string
	ttl   time.Duration
	now   func() time.Time
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithKey overrides the record key
func WithKey(key string) WriterOption {
	return func(w *Writer) {
		w.key = key
	}
}

// WithTTL sets how long a written record stays readable. It must not exceed
// the custom token validity.
func WithTTL(ttl time.Duration) WriterOption {
	return func(w *Writer) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

// NewWriter creates a writer that mints tokens with mint
func NewWriter(store Store, mint MintFunc, opts ...WriterOption) *Writer {
	w := &Writer{
		store: store,
		mint:  mint,
		key:   DefaultKey,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Apply writes a record for a signed-in state and removes it otherwise
func (w *Writer) Apply(ctx context.Context, state identity.State) error {
	if !state.SignedIn() {
		if err := w.store.Remove(ctx, w.key); err != nil {
			return fmt.Errorf("removing auth record: %w", err)
		}
		log.LogDebugWithFields("mirror", "Removed auth record", map[string]any{"key": w.key})
		return nil
	}

	token, err := w.mint(ctx)
	if err != nil {
		return fmt.Errorf("minting token for auth record: %w", err)
	}

	rec := Record{
		Token:     token,
		User:      *state.Session,
		Timestamp: w.now().UnixMilli(),
	}
	if err := w.store.Set(ctx, w.key, rec, w.ttl); err != nil {
		return fmt.Errorf("writing auth record: %w", err)
	}

	log.LogDebugWithFields("mirror", "Wrote auth record", map[string]any{
		"key": w.key,
		"uid": rec.User.UID,
	})
	return nil
}
