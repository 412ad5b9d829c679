package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by a CacheBackend when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheBackend is the key/value protocol behind Cache.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisCacheBackend stores entries as plain strings with SET EX.
type RedisCacheBackend struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCacheBackend(client redis.Cmdable, prefix string) *RedisCacheBackend {
	return &RedisCacheBackend{client: client, prefix: prefix}
}

func (b *RedisCacheBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return v, err
}

func (b *RedisCacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, b.prefix+key, value, ttl).Err()
}

func (b *RedisCacheBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.prefix + k
	}
	return b.client.Del(ctx, full...).Err()
}

// Cache is a best-effort cache-aside layer. Backend failures are logged and
// counted, then treated as misses; they never fail the caller. A nil *Cache or
// a nil backend is a pass-through.
type Cache struct {
	backend CacheBackend
	ttl     time.Duration
	metrics *Metrics
	log     *zap.Logger
}

func NewCache(backend CacheBackend, ttl time.Duration, metrics *Metrics, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{backend: backend, ttl: ttl, metrics: metrics, log: log}
}

func (c *Cache) enabled() bool {
	return c != nil && c.backend != nil
}

// lookup decodes key into dst. It reports whether dst was filled and any
// backend error; a corrupt payload is a plain miss and leaves dst untouched.
func (c *Cache) lookup(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		c.metrics.CacheError("get")
		c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return false, fmt.Errorf("cache: decode target for %s must be a non-nil pointer", key)
	}
	fresh := reflect.New(target.Type().Elem())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		c.log.Warn("cache payload undecodable", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	target.Elem().Set(fresh.Elem())
	return true, nil
}

// Get reports whether key was present and decoded into dst.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	ok, _ := c.lookup(ctx, key, dst)
	return ok
}

// Set stores v under key. ttl <= 0 uses the default TTL.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.enabled() {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.metrics.CacheError("set")
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes keys so the next read repopulates from the store.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}
	if err := c.backend.Del(ctx, keys...); err != nil {
		c.metrics.CacheError("del")
		c.log.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Fetch reads key through the cache. On a miss it calls load and populates
// the entry, unless the backend just failed, in which case the request runs
// pass-through.
func Fetch[T any](ctx context.Context, c *Cache, cacheType, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	hit, lookupErr := c.lookup(ctx, key, &v)
	if hit {
		c.metricsOrNil().CacheHit(cacheType)
		return v, nil
	}
	c.metricsOrNil().CacheMiss(cacheType)

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if lookupErr == nil {
		c.Set(ctx, key, v, 0)
	}
	return v, nil
}

func (c *Cache) metricsOrNil() *Metrics {
	if c == nil {
		return nil
	}
	return c.metrics
}

const (
	keyCategoriesAll = "categories:all"
	keyModelTypesAll = "model-types:all"
	keyModelsAll     = "models:all"
	keyBenchmarksAll = "benchmarks:all"
)

func categoryCacheKey(id int64) string  { return fmt.Sprintf("category:%d", id) }
func modelCacheKey(id int64) string     { return fmt.Sprintf("model:%d", id) }
func benchmarkCacheKey(id int64) string { return fmt.Sprintf("benchmark:%d", id) }
func userCacheKey(id int64) string      { return fmt.Sprintf("user:%d", id) }
