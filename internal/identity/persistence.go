package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// Persisted is what an identity client keeps across restarts
type Persisted struct {
	Session Session `json:"session"`
	IDToken string  `json:"idToken"`
}

// Persistence stores the session of one identity client
type Persistence interface {
	// Load returns nil, nil when nothing is stored
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// MemoryPersistence keeps the session for the lifetime of the process
type MemoryPersistence struct {
	mu        sync.Mutex
	persisted *Persisted
}

// NewMemoryPersistence creates an empty in-memory persistence
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load(_ context.Context) (*Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persisted == nil {
		return nil, nil
	}
	p := *m.persisted
	return &p, nil
}

func (m *MemoryPersistence) Save(_ context.Context, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted = &p
	return nil
}

func (m *MemoryPersistence) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted = nil
	return nil
}

// KeyringPersistence stores the session in the OS credential store, one entry
// per surface.
type KeyringPersistence struct {
	service string
	user    string
}

// NewKeyringPersistence creates a keyring-backed persistence
func NewKeyringPersistence(service, surface string) *KeyringPersistence {
	return &KeyringPersistence{service: service, user: surface}
}

func (k *KeyringPersistence) Load(_ context.Context) (*Persisted, error) {
	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	var p Persisted
	if err := json.Unmarshal([]byte(secret), &p); err != nil {
		return nil, fmt.Errorf("decoding persisted session: %w", err)
	}
	return &p, nil
}

func (k *KeyringPersistence) Save(_ context.Context, p Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding persisted session: %w", err)
	}
	if err := keyring.Set(k.service, k.user, string(data)); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}

func (k *KeyringPersistence) Clear(_ context.Context) error {
	err := keyring.Delete(k.service, k.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting keyring entry: %w", err)
	}
	return nil
}
