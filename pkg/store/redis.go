package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

// RedisStore keeps each entity kind in a Redis hash (one field per id).
// Suited to fabrics where several processes on a node share state.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "trustfabric"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(kind string) string {
	return s.keyPrefix + ":" + kind
}

func (s *RedisStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.key(kind), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, kind, id string, data []byte) error {
	if err := s.client.HSet(ctx, s.key(kind), id, data).Err(); err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, kind, id string) error {
	n, err := s.client.HDel(ctx, s.key(kind), id).Result()
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, contracts.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, kind string) ([][]byte, error) {
	all, err := s.client.HGetAll(ctx, s.key(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, []byte(all[id]))
	}
	return out, nil
}
