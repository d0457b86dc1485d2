// Package redis wraps go-redis/v9 for the answer-existence cache: a pooled
// client with get, set and prefix invalidation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Nil is returned by Get for missing keys.
var Nil = redis.Nil

type Client struct {
	rdb *redis.Client
}

// NewClient connects and checks the server with a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// FlushPrefix deletes every key starting with prefix and returns how many
// were removed.
func (c *Client) FlushPrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	it := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for it.Next(ctx) {
		if err := c.rdb.Del(ctx, it.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("deleting %s: %w", it.Val(), err)
		}
		deleted++
	}
	if err := it.Err(); err != nil {
		return deleted, fmt.Errorf("scanning %s*: %w", prefix, err)
	}
	return deleted, nil
}

// IsNilError reports a missing key.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
