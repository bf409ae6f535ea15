package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "campaignfin:profile:"

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares profiles between server replicas.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps an existing client.
func NewRedisCache(client redisClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "lookup: redis ping")
	}
	return client, nil
}

// Get returns the cached profile or nil on miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Profile, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "lookup: redis get")
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "lookup: decode cached profile")
	}
	return &p, nil
}

// Set stores p with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key string, p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "lookup: encode profile")
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "lookup: redis set")
	}
	return nil
}
