package catalog

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"freightaudit/internal/ratecard"
	"freightaudit/pkg/metrics"
)

type cacheEntry struct {
	bundle ratecard.Bundle
	err    error
}

// Cache memoizes bundles per agreement for the lifetime of one run.
// Concurrent first requests for an agreement share a single load. Missing
// agreements are remembered; transient failures are not, so a later line
// may retry.
type Cache struct {
	src     Source
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewCache(src Source) *Cache {
	return &Cache{
		src:     src,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error) {
	c.mu.RLock()
	entry, ok := c.entries[agreementID]
	c.mu.RUnlock()
	if ok {
		return entry.bundle, entry.err
	}

	v, err, _ := c.group.Do(agreementID, func() (interface{}, error) {
		c.mu.RLock()
		entry, ok := c.entries[agreementID]
		c.mu.RUnlock()
		if ok {
			return entry.bundle, entry.err
		}

		bundle, err := c.src.Bundle(ctx, agreementID)
		if err == nil || IsNotFound(err) {
			c.mu.Lock()
			c.entries[agreementID] = cacheEntry{bundle: bundle, err: err}
			size := len(c.entries)
			c.mu.Unlock()
			metrics.SetCatalogCacheSize(size)
		}
		return bundle, err
	})
	if err != nil {
		return ratecard.Bundle{}, err
	}
	return v.(ratecard.Bundle), nil
}

// Len returns the number of agreements held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
