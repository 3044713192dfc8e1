package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests per fixed window in Redis so the
// budget is shared by every instance
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = APIRateLimitConfig()
	}
	if prefix == "" {
		prefix = "docvault:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts one request against key's current window
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.redisKey(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	window := ttl.Val()
	if window <= 0 {
		// first hit of the window
		window = rl.config.WindowDuration
		if err := rl.redis.Expire(ctx, redisKey, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
	}

	count := int(incr.Val())
	limit := rl.config.capacity()
	d := Decision{
		Allowed: count <= limit,
		Limit:   rl.config.RequestsPerWindow,
		Reset:   time.Now().Add(window),
	}
	if count < limit {
		d.Remaining = limit - count
	}
	return d, nil
}

// Reset clears the budget for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.redisKey(key)).Err()
}
