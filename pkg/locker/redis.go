package locker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLocker leases keys with SET NX PX so several instances can share one schedule.
type RedisLocker struct {
	client redis.UniversalClient
	owner  string
	logger *slog.Logger
}

// NewRedisLocker connects to redisURL (redis://[:password@]host:port/db) and checks the
// connection before returning.
func NewRedisLocker(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLockerFromClient(client, logger), nil
}

func NewRedisLockerFromClient(client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	host, _ := os.Hostname()

	return &RedisLocker{
		client: client,
		owner:  host + "/" + uuid.NewString(),
		logger: logger.With("module", "redis_locker"),
	}
}

func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := r.client.SetNX(ctx, KeyPrefix+key, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	if !acquired {
		r.logger.DebugContext(ctx, "Lock held by another instance", "key", key)
	}

	return acquired, nil
}

// Owner identifies this instance as the value stored under held keys.
func (r *RedisLocker) Owner() string {
	return r.owner
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}
