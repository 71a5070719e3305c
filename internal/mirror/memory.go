package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/bxm/internal/log"
)

const watchQueueSize = 8

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]memoryEntry
	watchers map[string]map[chan Change]struct{}
	now      func() time.Time
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]memoryEntry),
		watchers: make(map[string]map[chan Change]struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.records, key)
		return nil, ErrNotFound
	}
	rec := entry.record
	return &rec, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = memoryEntry{record: rec, expiresAt: s.now().Add(ttl)}
	s.notify(key, &rec)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	s.notify(key, nil)
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	ch := make(chan Change, watchQueueSize)

	s.mu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[chan Change]struct{})
	}
	s.watchers[key][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[key][ch]; ok {
			delete(s.watchers[key], ch)
			close(ch)
		}
	}()

	return ch, nil
}

// Close ends every watch
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, chans := range s.watchers {
		for ch := range chans {
			close(ch)
		}
		delete(s.watchers, key)
	}
	return nil
}

// notify must be called with s.mu held
func (s *MemoryStore) notify(key string, rec *Record) {
	for ch := range s.watchers[key] {
		var change Change
		if rec != nil {
			r := *rec
			change.Record = &r
		}
		select {
		case ch <- change:
		default:
			log.LogWarnWithFields("mirror", "Dropping change for slow watcher", map[string]any{
				"key": key,
			})
		}
	}
}
