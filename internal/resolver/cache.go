// internal/resolver/cache.go
package resolver

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

const (
	// DefaultCacheTTL is short on purpose: page state drifts quickly and a
	// stale selector is worse than a re-resolution.
	DefaultCacheTTL        = 10 * time.Second
	DefaultCacheMaxEntries = 1000
)

type cacheEntry struct {
	resolved  *schemas.ResolvedElement
	createdAt time.Time
}

// Cache memoizes resolution results per (page URL, description, element
// type). Entries expire by TTL; a janitor goroutine sweeps them out between
// reads. Always call Stop when done.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	order      []string // insertion order, for batch eviction
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCache(ttl time.Duration, maxEntries int, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	c := &Cache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger.Named("resolver.cache"),
		stopChan:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.janitor()
	return c
}

// CacheKey builds the lookup key for one resolution request.
func CacheKey(pageURL, description, elementType string) string {
	return fmt.Sprintf("%s|%s|%s", pageURL, description, elementType)
}

// Get returns the cached resolution if present and fresh.
func (c *Cache) Get(key string) (*schemas.ResolvedElement, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(entry.createdAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.resolved, true
}

// Put stores a resolution, evicting the oldest fifth of the cache when full.
func (c *Cache) Put(key string, resolved *schemas.ResolvedElement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{resolved: resolved, createdAt: time.Now()}

	if len(c.entries) > c.maxEntries {
		c.evictOldestLocked(c.maxEntries / 5)
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Invalidate drops every entry for the given page URL. Mutating actions call
// this through the resolver after changing page state.
func (c *Cache) Invalidate(pageURL string) {
	prefix := pageURL + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// Stop terminates the janitor. Idempotent.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *Cache) evictOldestLocked(n int) {
	evicted := 0
	kept := c.order[:0]
	for i, key := range c.order {
		if evicted >= n {
			kept = append(kept, c.order[i:]...)
			break
		}
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			evicted++
		}
	}
	c.order = kept
	c.logger.Debug("Evicted oldest cache entries", zap.Int("count", evicted))
}

func (c *Cache) janitor() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Swept expired cache entries", zap.Int("count", removed))
	}
}
