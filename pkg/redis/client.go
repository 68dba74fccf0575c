package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wonny/aegis-narrator/pkg/config"
)

// DefaultNamespace prefixes every key the narrator writes
const DefaultNamespace = "narrator"

const pingTimeout = 3 * time.Second

// ErrDisabled is returned by calls that need a live connection when REDIS_ENABLED=false
var ErrDisabled = errors.New("redis disabled")

// Client is the connection shared by the cross-process LLM limiter and the event stream sink
// ⭐ SSOT: Redis 연결은 여기서만 관리
type Client struct {
	rdb       *redis.Client
	enabled   bool
	addr      string
	namespace string
}

// New connects and pings; a disabled config yields a no-op client
func New(cfg *config.Config) (*Client, error) {
	if !cfg.Redis.Enabled {
		return &Client{namespace: DefaultNamespace}, nil
	}

	opts := Options(cfg)
	c := &Client{
		rdb:       redis.NewClient(opts),
		enabled:   true,
		addr:      opts.Addr,
		namespace: DefaultNamespace,
	}
	if _, err := c.Ping(context.Background()); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Options sizes the pool for limiter traffic: every in-flight model call
// may hold a connection for its admission script, plus headroom for the stream sink.
// Timeouts are short because the limiter sits on the request path.
func Options(cfg *config.Config) *redis.Options {
	poolSize := cfg.Pool.MaxConcurrent*2 + 2
	if poolSize < 4 {
		poolSize = 4
	}
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     poolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// NewFromRedis wraps an existing go-redis client (tests, shared connections)
func NewFromRedis(rdb *redis.Client) *Client {
	c := &Client{rdb: rdb, enabled: rdb != nil, namespace: DefaultNamespace}
	if rdb != nil {
		c.addr = rdb.Options().Addr
	}
	return c
}

// WithNamespace returns a copy writing keys under ns (tests isolate runs this way)
func (c *Client) WithNamespace(ns string) *Client {
	cp := *c
	cp.namespace = ns
	return &cp
}

// Key joins parts under the namespace: narrator:ratelimit:llm
func (c *Client) Key(parts ...string) string {
	ns := c.namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + ":" + strings.Join(parts, ":")
}

// Ping round-trips within a bounded timeout and returns the latency
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if !c.enabled {
		return 0, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("redis ping %s failed: %w", c.addr, err)
	}
	return time.Since(start), nil
}

// Addr is host:port of the connection ("" when disabled)
func (c *Client) Addr() string {
	return c.addr
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Enabled returns whether Redis is enabled
func (c *Client) Enabled() bool {
	return c.enabled
}

// Redis returns the underlying redis client for advanced usage
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
