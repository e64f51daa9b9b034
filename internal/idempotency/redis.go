package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps locks and results as expiring Redis keys.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(rdb redis.Cmdable) *RedisStore { return &RedisStore{rdb: rdb} }

// GetResult implements Store.
func (s *RedisStore) GetResult(ctx context.Context, key string) (*Result, error) {
	raw, err := s.rdb.Get(ctx, resultPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AcquireLock implements Store.
func (s *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, lockPrefix+key, "1", ttl).Result()
}

// SetResult implements Store.
func (s *RedisStore) SetResult(ctx context.Context, key string, res Result, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, resultPrefix+key, raw, ttl).Err()
}

// ReleaseLock implements Store.
func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, lockPrefix+key).Err()
}
