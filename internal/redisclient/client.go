package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock acquires an advisory lock with a TTL. Returns false when another
// holder already owns it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases an advisory lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// SaveRunCursor stores the resume cursor of a named batch run.
func (c *Client) SaveRunCursor(ctx context.Context, runKey, cursor string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("run-cursor:%s", runKey), cursor, ttl).Err()
}

// LoadRunCursor returns the saved resume cursor for a named batch run, or ""
// when none exists.
func (c *Client) LoadRunCursor(ctx context.Context, runKey string) (string, error) {
	cursor, err := c.rdb.Get(ctx, fmt.Sprintf("run-cursor:%s", runKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor, nil
}
