package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options describes how to reach the Redis server.
type Options struct {
	Host         string
	Port         int
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns host:port, filling in localhost and 6379 when unset.
func (o Options) Addr() string {
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := o.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Connector owns the single Redis client of a process. The client is built on
// first use; concurrent first callers all receive the same client.
type Connector struct {
	opts   Options
	logger *slog.Logger

	once    sync.Once
	client  *redis.Client
	created atomic.Bool
}

// NewConnector returns a Connector that has not dialled anything yet.
// A nil logger uses slog.Default().
func NewConnector(opts Options, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{opts: opts, logger: logger}
}

// Client returns the shared client, creating it on the first call.
func (c *Connector) Client() redis.UniversalClient {
	c.once.Do(func() {
		c.client = redis.NewClient(&redis.Options{
			Addr:         c.opts.Addr(),
			Password:     c.opts.Password,
			DB:           c.opts.DB,
			DialTimeout:  c.opts.DialTimeout,
			ReadTimeout:  c.opts.ReadTimeout,
			WriteTimeout: c.opts.WriteTimeout,
		})
		c.created.Store(true)
		c.logger.Debug("redis client created", "addr", c.opts.Addr(), "db", c.opts.DB)
	})
	return c.client
}

// Ping verifies the server is reachable, creating the client if needed.
func (c *Connector) Ping(ctx context.Context) error {
	if err := c.Client().Ping(ctx).Err(); err != nil {
		c.logger.Error("redis error", "addr", c.opts.Addr(), "error", err)
		return fmt.Errorf("kvgate/store/redis: ping %s: %w", c.opts.Addr(), err)
	}
	c.logger.Info("connected to redis", "addr", c.opts.Addr())
	return nil
}

// Close closes the client if it was ever created.
func (c *Connector) Close() error {
	if !c.created.Load() {
		return nil
	}
	return c.client.Close()
}
