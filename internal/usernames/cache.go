package usernames

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const slugKeyPrefix = "linkhub:slug:"

// ErrCacheMiss is returned by SlugCache.Get when the slug is not cached.
var ErrCacheMiss = errors.New("usernames: cache miss")

// SlugCache caches slug to owner resolutions.
type SlugCache interface {
	Get(ctx context.Context, slug string) (string, error)
	Set(ctx context.Context, slug, ownerID string) error
	Delete(ctx context.Context, slugs ...string) error
}

// RedisCacheConfig locates the redis instance backing the slug cache.
type RedisCacheConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache is a SlugCache stored in redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redis and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("usernames: redis ping: %w", err)
	}
	return NewRedisCacheFromClient(client, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, slug string) (string, error) {
	value, err := c.client.Get(ctx, slugKeyPrefix+slug).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("usernames: cache get %q: %w", slug, err)
	}
	return value, nil
}

func (c *RedisCache) Set(ctx context.Context, slug, ownerID string) error {
	if err := c.client.Set(ctx, slugKeyPrefix+slug, ownerID, c.ttl).Err(); err != nil {
		return fmt.Errorf("usernames: cache set %q: %w", slug, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, slugs ...string) error {
	keys := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		if slug != "" {
			keys = append(keys, slugKeyPrefix+slug)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("usernames: cache delete: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type noopCache struct{}

// NewNoopCache returns a SlugCache that never stores anything.
func NewNoopCache() SlugCache {
	return noopCache{}
}

func (noopCache) Get(context.Context, string) (string, error) {
	return "", ErrCacheMiss
}

func (noopCache) Set(context.Context, string, string) error {
	return nil
}

func (noopCache) Delete(context.Context, ...string) error {
	return nil
}
