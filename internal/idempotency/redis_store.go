// Package idempotency deduplicates retried write requests.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// Record is what a key resolves to: a reservation held by an in-flight
// request, or the stored response of a finished one.
type Record struct {
	State     State     `json:"state"`
	Status    int       `json:"status,omitempty"`
	Body      []byte    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps records in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "idem:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Reserve claims key for the caller. When the key is already taken it
// returns the existing record and false.
func (s *RedisStore) Reserve(ctx context.Context, key string) (Record, bool, error) {
	pending := Record{State: StatePending, CreatedAt: time.Now().UTC()}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Record{}, false, fmt.Errorf("marshal reservation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(key), payload, s.ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return pending, true, nil
	}

	existing, err := s.Lookup(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// Expired between SETNX and GET; treat as in flight.
		return pending, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

var ErrNotFound = errors.New("idempotency key not found")

func (s *RedisStore) Lookup(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return record, nil
}

// Complete stores the final response for key, replacing the reservation.
func (s *RedisStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	payload, err := json.Marshal(Record{
		State:     StateDone,
		Status:    status,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release drops a reservation so the request can be retried.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
