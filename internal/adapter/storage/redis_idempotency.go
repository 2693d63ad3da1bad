package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	appliedKeyPrefix = "applied:"
	appliedKeyTTL    = 24 * time.Hour
)

// RedisIdempotencyStore keeps one marker per applied order line so a
// redelivered transaction cannot decrement the same position twice.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (r *RedisIdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, appliedKeyPrefix+key, 1, appliedKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, appliedKeyPrefix+key).Err()
}
