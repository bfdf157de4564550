// Package cache is the Redis-backed cache-aside store used for property
// query results and geocode resolutions.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stwalsh4118/homefinder/api/internal/config"
	"github.com/stwalsh4118/homefinder/api/internal/metrics"
)

// Cache is the subset of cache operations the engines depend on.
type Cache interface {
	// Get decodes the value at key into dst. The bool is false on a miss.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Redis implements Cache with JSON values.
type Redis struct {
	c *redis.Client
}

// New connects to the Redis server described by cfg. The connection is lazy;
// use Ping to check reachability.
func New(cfg config.RedisConfig) *Redis {
	return &Redis{c: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewFromClient wraps an existing client.
func NewFromClient(c *redis.Client) *Redis {
	return &Redis{c: c}
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	name := keyspace(key)
	v, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveCache(name, "miss")
		return false, nil
	}
	if err != nil {
		metrics.ObserveCache(name, "error")
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		// A corrupt entry behaves like a miss and is dropped.
		metrics.ObserveCache(name, "error")
		_ = r.c.Del(ctx, key).Err()
		return false, nil
	}
	metrics.ObserveCache(name, "hit")
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	metrics.ObserveCache(keyspace(key), "set")
	if err := r.c.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Del(ctx context.Context, key string) error {
	metrics.ObserveCache(keyspace(key), "del")
	return r.c.Del(ctx, key).Err()
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.c.Close()
}

// Key builds a stable key from prefix and params: params are sorted by name
// and hashed, so equal queries share an entry regardless of map order.
func Key(prefix string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(":")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}

	sum := md5.Sum([]byte(b.String()))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// keyspace returns the metric label for key: the part before the first colon.
func keyspace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "default"
}
