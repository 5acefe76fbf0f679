package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the reconnecting Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ConnectTimeout bounds a single dial+PING attempt.
	ConnectTimeout time.Duration
	// OperationTimeout bounds a single GET/SET/EXISTS call.
	OperationTimeout time.Duration
	// MaxRetries is the number of connection attempts made by one connect cycle.
	MaxRetries int
	// RetryInterval is the pause between two connection attempts.
	RetryInterval time.Duration
}

// Conn is the part of a Redis connection the client uses. Get must return redis.Nil
// on a miss.
type Conn interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a new connection. It is called once per connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

// NewRedisDialer returns a Dialer producing go-redis clients limited to a single
// pooled connection with the library's own retries disabled, so the reconnect policy
// of ReconnectingCache is the only one in effect.
func NewRedisDialer(cfg *RedisConfig) Dialer {
	return func(_ context.Context) (Conn, error) {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.ConnectTimeout,
			ReadTimeout:  cfg.OperationTimeout,
			WriteTimeout: cfg.OperationTimeout,
			PoolSize:     1,
			MaxRetries:   -1,
		})
		return &redisConn{client: rdb}, nil
	}
}

// ReconnectingCache is a Cache backed by one shared Redis connection. It connects
// lazily (or eagerly through Connect), and on a connectivity failure it reconnects
// once and re-issues the operation exactly once before giving up with
// ErrCacheUnavailable.
type ReconnectingCache struct {
	cfg    RedisConfig
	dial   Dialer
	logger zerolog.Logger

	// mu is held for a whole operation so reconnect-then-retry is atomic.
	mu   sync.Mutex
	conn Conn
}

// NewReconnectingCache creates the client without connecting. A nil dialer uses
// NewRedisDialer.
func NewReconnectingCache(cfg *RedisConfig, dial Dialer, logger zerolog.Logger) (*ReconnectingCache, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	c := *cfg
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if c.RetryInterval < 0 {
		c.RetryInterval = 0
	}
	if dial == nil {
		dial = NewRedisDialer(&c)
	}
	return &ReconnectingCache{
		cfg:    c,
		dial:   dial,
		logger: logger.With().Str("component", "ReconnectingCache").Str("redis_address", c.Addr).Logger(),
	}, nil
}

// Connect establishes the connection, making up to MaxRetries attempts. The worker
// calls it at startup and treats an error as fatal.
func (c *ReconnectingCache) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *ReconnectingCache) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			err = conn.Ping(pingCtx)
			cancel()
			if err == nil {
				c.conn = conn
				c.logger.Info().Int("attempt", attempt).Msg("Connected to Redis.")
				return nil
			}
			_ = conn.Close()
		}
		lastErr = err
		c.logger.Debug().Err(err).Int("attempt", attempt).Int("max_retries", c.cfg.MaxRetries).Msg("Redis connection attempt failed.")

		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: connect interrupted: %v", ErrCacheUnavailable, ctx.Err())
		case <-time.After(c.cfg.RetryInterval):
		}
	}
	return fmt.Errorf("%w: could not connect to redis after %d attempts: %v", ErrCacheUnavailable, c.cfg.MaxRetries, lastErr)
}

// execute runs fn against the current connection, reconnecting first if there is
// none, and reconnecting once more if fn fails with a connectivity error.
func (c *ReconnectingCache) execute(ctx context.Context, op, key string, fn func(ctx context.Context, conn Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	err := c.run(ctx, fn)
	if err == nil {
		return nil
	}
	if !IsConnectivityError(err) || ctx.Err() != nil {
		return fmt.Errorf("redis %s %q: %w", op, key, err)
	}

	c.logger.Warn().Err(err).Str("op", op).Msg("Redis operation failed, reconnecting once.")
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	err = c.run(ctx, fn)
	switch {
	case err == nil:
		return nil
	case IsConnectivityError(err):
		return fmt.Errorf("%w: redis %s %q: %v", ErrCacheUnavailable, op, key, err)
	default:
		return fmt.Errorf("redis %s %q: %w", op, key, err)
	}
}

func (c *ReconnectingCache) run(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	return fn(opCtx, c.conn)
}

// Get returns the value for key. A missing key is reported as found == false.
func (c *ReconnectingCache) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := c.execute(ctx, "get", key, func(ctx context.Context, conn Conn) error {
		v, err := conn.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			value, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// Set stores value under key with the given ttl (zero means no expiry).
func (c *ReconnectingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.execute(ctx, "set", key, func(ctx context.Context, conn Conn) error {
		return conn.Set(ctx, key, value, ttl)
	})
}

// Exists reports whether key is present.
func (c *ReconnectingCache) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.execute(ctx, "exists", key, func(ctx context.Context, conn Conn) error {
		ok, err := conn.Exists(ctx, key)
		exists = ok
		return err
	})
	return exists, err
}

// Close releases the connection. Later operations reconnect lazily.
func (c *ReconnectingCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.logger.Info().Msg("Closing Redis connection...")
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnectivityError reports whether err means the connection itself is unusable,
// as opposed to a command-level failure.
func IsConnectivityError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// redisConn adapts *redis.Client to Conn.
type redisConn struct {
	client *redis.Client
}

func (r *redisConn) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *redisConn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisConn) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *redisConn) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisConn) Close() error {
	return r.client.Close()
}
