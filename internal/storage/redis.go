package storage

import (
	"context"
	"errors"

	"captain/pkg/cache"
)

// Redis stores items as plain strings in a RedisCache without expiry.
type Redis struct {
	cache *cache.RedisCache
}

func NewRedis(c *cache.RedisCache) *Redis {
	return &Redis{cache: c}
}

func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := r.cache.GetString(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	return r.cache.SetString(ctx, key, value, 0)
}
