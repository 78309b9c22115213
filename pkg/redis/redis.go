package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRetries bounds the pings made while connecting
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Host:          "localhost",
		Port:          6379,
		PoolSize:      100,
		MinIdleConns:  10,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// Addr returns the Redis address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client is the Redis connection shared by the repositories of a process.
// Lua scripts are registered by name and evaluated by SHA.
type Client struct {
	client *redis.Client
	config *Config

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewClient connects to Redis, pinging until it answers or the retry budget
// is spent
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	err := retry.Run(ctx, &retry.Config{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInterval,
		MaxInterval:     cfg.RetryInterval,
		Multiplier:      1,
	}, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an already connected redis.Client (tests, shared pools)
func NewFromClient(client *redis.Client, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		client:  client,
		config:  cfg,
		scripts: make(map[string]*redis.Script),
	}
}

// IsNil reports whether err is the redis "key does not exist" reply
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Client returns the underlying redis.Client
func (c *Client) Client() *redis.Client {
	return c.client
}

// Ping checks if Redis connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck pings Redis with a bounded timeout
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *Client) script(name, src string) *redis.Script {
	c.mu.RLock()
	s, ok := c.scripts[name]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.scripts[name]; ok {
		return s
	}
	s = redis.NewScript(src)
	c.scripts[name] = s
	return s
}

// LoadScript registers src under name and loads it into the server's script
// cache. Returns the script SHA.
func (c *Client) LoadScript(ctx context.Context, name, src string) (string, error) {
	sha, err := c.script(name, src).Load(ctx, c.client).Result()
	if err != nil {
		return "", fmt.Errorf("failed to load script %s: %w", name, err)
	}
	return sha, nil
}

// ScriptSHA returns the SHA of a registered script
func (c *Client) ScriptSHA(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scripts[name]
	if !ok {
		return "", false
	}
	return s.Hash(), true
}

// EvalWithFallback runs the named script by SHA and resends its source when
// the server no longer has it cached (restart, SCRIPT FLUSH, failover).
func (c *Client) EvalWithFallback(ctx context.Context, name, src string, keys []string, args ...interface{}) *redis.Cmd {
	ctx, span := telemetry.StartSpan(ctx, "redis.script."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.Int("redis.keys", len(keys)),
		),
	)
	defer span.End()

	cmd := c.script(name, src).Run(ctx, c.client, keys, args...)
	if err := cmd.Err(); err != nil && !IsNil(err) {
		telemetry.RecordError(span, err)
	}
	return cmd
}

// Set sets key to value with an expiration (0 keeps it forever)
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return c.client.Set(ctx, key, value, expiration)
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return c.client.Del(ctx, keys...)
}

// Get returns the value of key, redis.Nil when it is missing
func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	return c.client.Get(ctx, key)
}

func (c *Client) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return c.client.HGetAll(ctx, key)
}

func (c *Client) ZRank(ctx context.Context, key, member string) *redis.IntCmd {
	return c.client.ZRank(ctx, key, member)
}

func (c *Client) ZCard(ctx context.Context, key string) *redis.IntCmd {
	return c.client.ZCard(ctx, key)
}

func (c *Client) ZCount(ctx context.Context, key, min, max string) *redis.IntCmd {
	return c.client.ZCount(ctx, key, min, max)
}

func (c *Client) ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd {
	return c.client.ZRangeWithScores(ctx, key, start, stop)
}

// TxPipeline returns a MULTI/EXEC pipeline
func (c *Client) TxPipeline() redis.Pipeliner {
	return c.client.TxPipeline()
}
