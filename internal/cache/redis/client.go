// Package redis carries the engine's Redis-backed pieces: the risk signal
// sink with its durable stream, and the cross-replica tick lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/hedgerisk/internal/config"
)

// Client is one engine process's Redis connection. The connection is named
// after the process (e.g. "hedgerisk-engine") so CLIENT LIST shows which
// replicas are writing signals and competing for the tick lock.
type Client struct {
	rdb  *redis.Client
	name string
}

// New connects to the Redis described by cfg and pings it.
func New(ctx context.Context, cfg config.RedisConfig, name string) (*Client, error) {
	rdb := redis.NewClient(options(cfg, name))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, name: name}, nil
}

func options(cfg config.RedisConfig, name string) *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: name,
	}
	if cfg.TLSEnabled {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	return opts
}

// CheckStream verifies that the signal stream key is either absent or a
// stream. Any other type makes every XADD fail with WRONGTYPE while pub/sub
// keeps working.
func (c *Client) CheckStream(ctx context.Context, stream string) error {
	typ, err := c.rdb.Type(ctx, stream).Result()
	if err != nil {
		return fmt.Errorf("redis: %s: type %s: %w", c.name, stream, err)
	}
	return streamKeyType(stream, typ)
}

func streamKeyType(stream, typ string) error {
	switch typ {
	case "stream", "none":
		return nil
	default:
		return fmt.Errorf("redis: signal stream %s holds a %s, not a stream", stream, typ)
	}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
