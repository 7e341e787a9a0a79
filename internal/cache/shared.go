package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the shared tier needs.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Shared stores JSON snapshots in Redis so several processes reuse each
// other's provider results.
type Shared struct {
	client RedisClient
	prefix string
}

func NewShared(client RedisClient, prefix string) *Shared {
	if client == nil {
		return nil
	}
	if prefix == "" {
		prefix = "defi-scout"
	}
	return &Shared{client: client, prefix: prefix}
}

// Load decodes the value at key into v. A missing key is not an error.
func (s *Shared) Load(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Shared) Store(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

func (s *Shared) key(k string) string {
	return s.prefix + ":" + k
}
