package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/bxm/internal/log"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps records as Redis strings with an expiry. Every write is
// also published on "<key>:changes" so watchers in other processes see it.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and checks the connection
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func changesChannel(key string) string {
	return key + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := s.client.Publish(ctx, changesChannel(key), data).Err(); err != nil {
		log.LogWarnWithFields("mirror", "Failed to publish change", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	if err := s.client.Publish(ctx, changesChannel(key), "").Err(); err != nil {
		log.LogWarnWithFields("mirror", "Failed to publish change", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

// Watch subscribes to the key's change channel. An empty payload means the
// record was removed.
func (s *RedisStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	pubsub := s.client.Subscribe(ctx, changesChannel(key))

	// Wait for the subscription to be confirmed before reporting success
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", key, err)
	}

	out := make(chan Change, watchQueueSize)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var change Change
				if msg.Payload != "" {
					var rec Record
					if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
						log.LogWarnWithFields("mirror", "Dropping malformed change", map[string]any{
							"key":   key,
							"error": err.Error(),
						})
						continue
					}
					change.Record = &rec
				}

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
