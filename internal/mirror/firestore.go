package mirror

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/bxm/internal/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection holds one document per record key
const DefaultCollection = "bxm_auth_state"

var _ Store = (*FirestoreStore)(nil)

// FirestoreStore keeps each record as a document named after its key.
// Firestore has no native expiry on reads, so expires_at is checked on Get.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

type recordDoc struct {
	Record    Record    `firestore:"record"`
	ExpiresAt time.Time `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStore creates a Firestore-backed store
func NewFirestoreStore(ctx context.Context, projectID, database, collection string, opts ...option.ClientOption) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		collection = DefaultCollection
	}

	var client *firestore.Client
	var err error

	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (*Record, error) {
	snap, err := s.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s from Firestore: %w", key, err)
	}

	var doc recordDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	if !s.now().Before(doc.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &doc.Record, nil
}

func (s *FirestoreStore) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	now := s.now()
	_, err := s.doc(key).Set(ctx, recordDoc{
		Record:    rec,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to Firestore: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) Remove(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s from Firestore: %w", key, err)
	}
	return nil
}

// Watch listens to the record's document. The initial snapshot reflects the
// current state, not a change, and is skipped.
func (s *FirestoreStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	it := s.doc(key).Snapshots(ctx)

	out := make(chan Change, watchQueueSize)
	go func() {
		defer close(out)
		defer it.Stop()

		first := true
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					log.LogErrorWithFields("mirror", "Firestore watch ended", map[string]any{
						"key":   key,
						"error": err.Error(),
					})
				}
				return
			}
			if first {
				first = false
				continue
			}

			var change Change
			if snap.Exists() {
				var doc recordDoc
				if err := snap.DataTo(&doc); err != nil {
					log.LogWarnWithFields("mirror", "Dropping malformed change", map[string]any{
						"key":   key,
						"error": err.Error(),
					})
					continue
				}
				change.Record = &doc.Record
			}

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
