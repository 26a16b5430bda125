// Package redis wraps the go-redis client with the pool and timeout settings
// this service deploys with.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// OpTimeout bounds individual cache operations issued by the engine.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// DefaultConfig returns settings tuned for a read-heavy cache workload:
// short operation timeouts so a slow cache cannot stall screenings.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		OpTimeout:    2 * time.Second,
	}
}

// Client wraps a connected Redis client.
type Client struct {
	rdb    redis.UniversalClient
	logger *zap.SugaredLogger
}

// NewClient connects and pings Redis with the given configuration.
func NewClient(cfg *Config, logger *zap.SugaredLogger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Infow("redis client connected", "addr", cfg.Addr, "db", cfg.DB, "pool_size", cfg.PoolSize)
	return &Client{rdb: rdb, logger: logger}, nil
}

// Get returns the underlying client.
func (c *Client) Get() redis.UniversalClient { return c.rdb }

// Health pings the connection.
func (c *Client) Health(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
