package deviceproof

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const noncePrefix = "replay:device-proof:"

// RedisNonceStore keeps consumed nonces as expiring keys; SET NX is the atomic step.
type RedisNonceStore struct {
	rdb redis.Cmdable
}

// NewRedisNonceStore constructs a Redis-backed nonce store.
func NewRedisNonceStore(rdb redis.Cmdable) *RedisNonceStore {
	return &RedisNonceStore{rdb: rdb}
}

// NonceKey is the Redis key of a (tenant, device, nonce) triple.
func NonceKey(tenantID, deviceID, nonce string) string {
	return noncePrefix + tenantID + ":" + deviceID + ":" + nonce
}

// Consume implements NonceStore.
func (s *RedisNonceStore) Consume(ctx context.Context, tenantID, deviceID, nonce string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, NonceKey(tenantID, deviceID, nonce), time.Now().Unix(), ttl).Result()
}
