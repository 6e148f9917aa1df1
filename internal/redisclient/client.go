package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_limit_window.lua
var rateLimitWindowScript string

type Client struct {
	rdb             *redis.Client
	rateLimitScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:             rdb,
		rateLimitScript: redis.NewScript(rateLimitWindowScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CheckRateWindow atomically checks and records one attempt in a
// sliding window using the embedded Lua script. Returns whether the
// attempt is allowed and, when blocked, how long until the oldest
// attempt in the window expires.
func (c *Client) CheckRateWindow(ctx context.Context, key string, window time.Duration, maxAttempts int, member string) (bool, time.Duration, error) {
	now := time.Now().UnixMilli()

	result, err := c.rateLimitScript.Run(ctx, c.rdb,
		[]string{fmt.Sprintf("ratelimit:%s", key)},
		now, window.Milliseconds(), maxAttempts, member).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script result type")
	}

	allowed, _ := values[0].(int64)
	retryMillis, _ := values[1].(int64)

	return allowed == 1, time.Duration(retryMillis) * time.Millisecond, nil
}

// SetIdempotencyResult caches the booking id for an idempotency key
// so replays short-circuit before touching the database.
func (c *Client) SetIdempotencyResult(ctx context.Context, key, bookingID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), bookingID, ttl).Err()
}

// GetIdempotencyResult returns the cached booking id for an
// idempotency key, or "" when not cached.
func (c *Client) GetIdempotencyResult(ctx context.Context, key string) (string, error) {
	result, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

// AcquireLock acquires a distributed lock (used by the recovery sweep
// so only one instance runs a pass)
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// PurgeExpiredIdempotencyKeys is a no-op safety scan: idempotency keys
// carry TTLs, but keys written before a TTL policy change may linger.
func (c *Client) PurgeExpiredIdempotencyKeys(ctx context.Context, maxScan int64) (int, error) {
	var purged int
	iter := c.rdb.Scan(ctx, 0, "idempotency:*", maxScan).Iterator()
	for iter.Next(ctx) {
		ttl, err := c.rdb.TTL(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		if ttl < 0 {
			if err := c.rdb.Del(ctx, iter.Val()).Err(); err == nil {
				purged++
			}
		}
	}
	return purged, iter.Err()
}
