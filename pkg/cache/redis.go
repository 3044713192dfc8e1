package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/go-redis/redis/v8"
)

const (
	redisPrefix   = "docvault:rbac"
	redisEpochKey = redisPrefix + ":epoch"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Redis is a cache shared by every docvault instance. Keys embed the
// global epoch so keys from older generations are never read again and
// age out through their TTL.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedis creates a Redis-backed cache
func NewRedis(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *Redis {
	return &Redis{client: client, ttl: ttl, metrics: metrics}
}

func (c *Redis) Epoch(ctx context.Context) (int64, error) {
	epoch, err := c.client.Get(ctx, redisEpochKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get epoch failed: %w", err)
	}
	return epoch, nil
}

func (c *Redis) key(epoch int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", redisPrefix, epoch, key)
}

func (c *Redis) Get(ctx context.Context, epoch int64, key string, dest interface{}) (bool, error) {
	fullKey := c.key(epoch, key)
	data, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		recordMiss(c.metrics, key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.client.Del(ctx, fullKey)
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	recordHit(c.metrics, key)
	return true, nil
}

func (c *Redis) Set(ctx context.Context, epoch int64, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(epoch, key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, redisEpochKey).Err(); err != nil {
		return fmt.Errorf("redis incr epoch failed: %w", err)
	}
	return nil
}
