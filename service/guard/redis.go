package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "solsend:inflight:"

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares holds across server replicas through Redis SET NX.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisGuard creates a guard backed by rdb.
func NewRedisGuard(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// Acquire takes the key or returns ErrInFlight.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx error: %w", err)
	}
	if !ok {
		return nil, ErrInFlight
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, g.rdb, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			g.logger.WarnContext(ctx, "failed to release in-flight key", "key", redisKey, "error", err)
			return fmt.Errorf("redis release error: %w", err)
		}
		return nil
	}, nil
}
