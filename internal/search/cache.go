package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
	pkgredis "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/redis"
)

const cacheKeyPrefix = "prisoner-search:"

// CacheBackend is the key/value store behind Cache. *pkgredis.Client
// satisfies it.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Cache stores search pages keyed by index and request. Keys embed the
// index name, so a generation swap never serves pages from the old index.
type Cache struct {
	backend CacheBackend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewCache(backend CacheBackend, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "search-cache"),
	}
}

func (c *Cache) get(ctx context.Context, key string) (*Result, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &res, true
}

func (c *Cache) set(ctx context.Context, key string, res *Result) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for (index, request) or computes it.
// Concurrent misses for the same key share one computation. The bool
// reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, index, searchType string, request any, compute func() (*Result, error)) (*Result, bool, error) {
	key, err := c.key(index, searchType, request)
	if err != nil {
		return nil, false, err
	}
	if res, ok := c.get(ctx, key); ok {
		return res, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		res, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate drops every cached page.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.DeletePrefix(ctx, cacheKeyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating search cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *Cache) key(index, searchType string, request any) (string, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("building cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s%s:%s:%x", cacheKeyPrefix, index, searchType, sum[:16]), nil
}
