package redisstore

import (
	"github.com/redis/go-redis/v9"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/third_party/cache"
)

// Connect opens a Redis connection via the shared cache helper and hands
// back the underlying *redis.Client the store constructors expect.
func Connect(cfg cache.RedisConfig) (*redis.Client, error) {
	conn, err := cache.NewRedisConnection(cfg)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "connect to redis", err)
	}
	return conn.GetClient(), nil
}
