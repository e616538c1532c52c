package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"selfquiz/internal/localstore"
)

const defaultKeyPrefix = "selfquiz:local:"

// Store is a Redis-backed implementation of localstore.Store. Keys are
// namespaced by prefix so several devices can share one Redis.
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return raw, true, nil
}

// Commit applies the batch in a MULTI/EXEC transaction.
func (s *Store) Commit(ctx context.Context, batch localstore.Batch) error {
	if batch.Empty() {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range batch.Deletes {
			pipe.Del(ctx, s.key(key))
		}
		for key, value := range batch.Sets {
			pipe.Set(ctx, s.key(key), value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) key(key string) string {
	return s.prefix + key
}
