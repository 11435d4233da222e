package locks

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache is the shared ephemeral store backing feed locks.
type Cache interface {
	// CASSet atomically sets key to value with the given ttl unless key
	// already holds value. It reports whether the value was set.
	CASSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value of key, or "" when it is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

var casSetScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// RedisCache implements Cache on Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) CASSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	set, err := casSetScript.Run(ctx, c.client, []string{key}, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return set == 1, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}
