// Package cache stores search responses in Redis so that repeated queries
// against the same index generation skip scoring entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bgde/vocab-platform/internal/search/engine"
	"github.com/bgde/vocab-platform/pkg/metrics"
	pkgredis "github.com/bgde/vocab-platform/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Store is the subset of *redis.Client the cache needs. A missing key is
// reported with an error for which redis.IsNilError is true.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Cacheable reports whether a search with opts may be served from cache.
// Phase-filtered searches depend on review state that changes with every
// answer, so they always run live.
func Cacheable(opts engine.Options) bool {
	return opts.Phase == nil
}

func (c *QueryCache) Get(ctx context.Context, key string) (*engine.Response, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp engine.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &resp, true
}

func (c *QueryCache) Set(ctx context.Context, key string, resp *engine.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for the query or computes,
// stores and returns it. Concurrent misses for the same key share one
// computation. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	opts engine.Options,
	generation uint64,
	computeFn func() (*engine.Response, error),
) (*engine.Response, bool, error) {
	key := BuildKey(query, opts, generation)
	if resp, ok := c.Get(ctx, key); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*engine.Response), false, nil
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// BuildKey derives the cache key from the normalized query, every option
// that changes the response, and the index generation, so a rebuild
// naturally orphans old entries.
func BuildKey(query string, opts engine.Options, generation uint64) string {
	raw := fmt.Sprintf("%s|gen=%d|type=%s|cat=%s|level=%s|dir=%s|limit=%d|offset=%d|sort=%s|min=%g",
		normalizeQuery(query), generation,
		opts.Type, opts.Category, opts.Level, opts.Direction,
		opts.Limit, opts.Offset, opts.SortBy, opts.MinScore,
	)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuery folds case and whitespace. Word order is kept because it
// decides the order of highlights and suggestions.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
