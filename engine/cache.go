package engine

import "slices"

// DefaultMaxCached is the cache capacity used when none is configured
const DefaultMaxCached = 6

// CacheKey identifies a rendered artifact
type CacheKey struct {
	PageNumber int     `json:"pageNumber"`
	ZoomFactor float64 `json:"zoomFactor"`
}

// CacheEntry is a fully rendered page owned by the cache
type CacheEntry struct {
	PageNumber int
	ZoomFactor float64
	Bitmap     *Bitmap
	Overlay    *TextOverlay
}

// Key returns the entry's cache key
func (e *CacheEntry) Key() CacheKey {
	return CacheKey{PageNumber: e.PageNumber, ZoomFactor: e.ZoomFactor}
}

func (e *CacheEntry) release() {
	e.Bitmap.Release()
	e.Bitmap = nil
	e.Overlay = nil
}

// CacheStats counts cache activity since creation
type CacheStats struct {
	Len       int `json:"len"`
	Capacity  int `json:"capacity"`
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
}

// Cache is a bounded least-recently-used store of rendered pages.
// Entries are kept oldest first; a hit moves the entry to the end.
// It is not safe for concurrent use and is confined to the scheduler goroutine.
type Cache struct {
	entries  []*CacheEntry
	capacity int
	stats    CacheStats
}

// NewCache creates an empty cache holding at most capacity entries
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		entries:  make([]*CacheEntry, 0, capacity),
		capacity: capacity,
	}
}

func (c *Cache) indexOf(pageNumber int, zoomFactor float64) int {
	return slices.IndexFunc(c.entries, func(e *CacheEntry) bool {
		return e.PageNumber == pageNumber && e.ZoomFactor == zoomFactor
	})
}

// Lookup returns the entry for the key and promotes it to most recent
func (c *Cache) Lookup(pageNumber int, zoomFactor float64) (*CacheEntry, bool) {
	i := c.indexOf(pageNumber, zoomFactor)
	if i < 0 {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	entry := c.entries[i]
	c.entries = append(slices.Delete(c.entries, i, i+1), entry)
	return entry, true
}

// Insert stores the entry as most recent. An entry with the same key is
// released and replaced; otherwise a full cache evicts its oldest entry.
func (c *Cache) Insert(entry *CacheEntry) {
	if i := c.indexOf(entry.PageNumber, entry.ZoomFactor); i >= 0 {
		old := c.entries[i]
		c.entries = slices.Delete(c.entries, i, i+1)
		if old != entry {
			old.release()
		}
	} else if len(c.entries) >= c.capacity {
		c.entries[0].release()
		c.entries = slices.Delete(c.entries, 0, 1)
		c.stats.Evictions++
	}
	c.entries = append(c.entries, entry)
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	return len(c.entries)
}

// Capacity returns the maximum number of entries
func (c *Cache) Capacity() int {
	return c.capacity
}

// Keys returns the cached keys, least recently used first
func (c *Cache) Keys() []CacheKey {
	keys := make([]CacheKey, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key()
	}
	return keys
}

// Stats returns a copy of the cache counters
func (c *Cache) Stats() CacheStats {
	stats := c.stats
	stats.Len = len(c.entries)
	stats.Capacity = c.capacity
	return stats
}
