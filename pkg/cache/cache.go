// Package cache maps normalized queries to previously aggregated answers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agorai/agorai/pkg/cache/redis"
	"github.com/agorai/agorai/pkg/cache/sqlite"
	"github.com/agorai/agorai/pkg/metrics"
	"github.com/agorai/agorai/pkg/models"
)

// KeyPrefix namespaces response cache keys in shared stores.
const KeyPrefix = "query_cache:"

// Store is a byte-oriented key/value backend with per-entry TTL.
//
// Get returns (nil, false, nil) on miss or expiry. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Len(ctx context.Context) (int64, error)
	Clear(ctx context.Context, expiredOnly bool) error
	Close() error
}

// Open returns the Store named by rawURL: redis:// or rediss://,
// sqlite://<path>, or memory:// (also the default for an empty URL).
func Open(ctx context.Context, rawURL string) (Store, error) {
	switch {
	case rawURL == "" || strings.HasPrefix(rawURL, "memory://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		s, err := redis.Dial(ctx, rawURL, KeyPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(rawURL, "sqlite://"):
		s, err := sqlite.New(strings.TrimPrefix(rawURL, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported cache url %q", rawURL)
	}
}

// Normalize trims and lowercases a query so that trivially different
// spellings share an entry.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Key returns the store key for query.
func Key(query string) string {
	return KeyPrefix + Normalize(query)
}

// ResponseCache stores ordered provider results per normalized query.
// Backend failures degrade to misses; the cache is advisory.
type ResponseCache struct {
	store   Store
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithLogger sets the logger used for backend errors.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *ResponseCache) { c.log = l }
}

// WithMetrics reports hits and misses to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResponseCache) { c.metrics = m }
}

// New wraps s with the given entry TTL.
func New(s Store, ttl time.Duration, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		store: s,
		ttl:   ttl,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the entry lifetime.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached results for query. Misses, expired entries,
// undecodable payloads and backend errors all report false.
func (c *ResponseCache) Get(ctx context.Context, query string) ([]models.ProviderResult, bool) {
	key := Key(query)
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache get failed, treating as miss")
		return c.miss()
	}
	if !ok {
		return c.miss()
	}

	var results []models.ProviderResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache entry undecodable, treating as miss")
		return c.miss()
	}

	c.hits.Add(1)
	c.metrics.CacheLookup(true)
	return results, true
}

func (c *ResponseCache) miss() ([]models.ProviderResult, bool) {
	c.misses.Add(1)
	c.metrics.CacheLookup(false)
	return nil, false
}

// Put overwrites the entry for query.
func (c *ResponseCache) Put(ctx context.Context, query string, results []models.ProviderResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.store.Set(ctx, Key(query), data, c.ttl); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *ResponseCache) Stats(ctx context.Context) (models.CacheStats, error) {
	n, err := c.store.Len(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes entries. If expiredOnly is true, only expired entries are removed.
func (c *ResponseCache) Clear(ctx context.Context, expiredOnly bool) error {
	return c.store.Clear(ctx, expiredOnly)
}

// Close releases the backend.
func (c *ResponseCache) Close() error {
	return c.store.Close()
}
