// Package cache holds literature retrieval results between consultations.
package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Stats counts cache lookups.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// MemoryCache is an in-process expiring LRU of evidence results.
type MemoryCache struct {
	lru    *expirable.LRU[string, *domain.EvidenceResult]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a cache holding at most maxItems results for ttl.
func NewMemoryCache(maxItems int, ttl time.Duration) *MemoryCache {
	if maxItems <= 0 {
		maxItems = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, *domain.EvidenceResult](maxItems, nil, ttl),
	}
}

// Get returns the cached result for query.
func (c *MemoryCache) Get(_ context.Context, query string) (*domain.EvidenceResult, bool, error) {
	result, ok := c.lru.Get(normalizeKey(query))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return result, ok, nil
}

// Set stores result under query.
func (c *MemoryCache) Set(_ context.Context, query string, result *domain.EvidenceResult) error {
	c.lru.Add(normalizeKey(query), result)
	return nil
}

// Stats returns hit and miss counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}

// Purge drops every entry.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}

// TieredCache checks the memory tier first and then a shared tier such as
// Redis, populating memory on a shared hit.
type TieredCache struct {
	memory *MemoryCache
	shared domain.EvidenceCache
	logger *logrus.Logger
}

// NewTieredCache creates a two level cache. shared may be nil.
func NewTieredCache(memory *MemoryCache, shared domain.EvidenceCache, logger *logrus.Logger) *TieredCache {
	return &TieredCache{memory: memory, shared: shared, logger: logger}
}

// Get looks in memory, then in the shared tier.
func (t *TieredCache) Get(ctx context.Context, query string) (*domain.EvidenceResult, bool, error) {
	if result, ok, _ := t.memory.Get(ctx, query); ok {
		return result, true, nil
	}
	if t.shared == nil {
		return nil, false, nil
	}

	result, ok, err := t.shared.Get(ctx, query)
	if err != nil {
		return nil, false, err
	}
	if ok {
		t.logger.WithField("cache_tier", "shared").Debug("Literature cache hit")
		_ = t.memory.Set(ctx, query, result)
	}
	return result, ok, nil
}

// Set writes both tiers. A shared tier failure is returned after the memory
// tier has been written.
func (t *TieredCache) Set(ctx context.Context, query string, result *domain.EvidenceResult) error {
	_ = t.memory.Set(ctx, query, result)
	if t.shared == nil {
		return nil
	}
	return t.shared.Set(ctx, query, result)
}

func normalizeKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
