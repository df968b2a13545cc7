package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kvinwang/gpt-prover/pkg/kms"
)

// DefaultRedisKey is the key holding the serialized snapshot.
const DefaultRedisKey = "gpt-prover:state"

// RedisStore implements Store using a single Redis key.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	keys   kms.Manager
}

// NewRedisClient creates a client for a single Redis server.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStore(client redis.UniversalClient, key string, keys kms.Manager) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, keys: keys}
}

func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("redis load: %w", err)
	}
	return decodeSnapshot(raw, s.keys)
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := encodeSnapshot(snap, s.keys)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}
