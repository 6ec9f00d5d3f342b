package rubric

import "sync"

// Cache is a read-through memo of built indexes keyed by content hash.
// Rubrics are immutable, so entries never go stale; the only policy needed
// is a size cap. When full, an arbitrary entry is evicted — any entry is
// equally safe to rebuild.
type Cache struct {
	mu  sync.Mutex
	max int
	m   map[string]*Index
}

const defaultCacheSize = 256

func NewCache(max int) *Cache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &Cache{max: max, m: make(map[string]*Index, max)}
}

// Get returns the index for r, building it on first use.
func (c *Cache) Get(r Rubric) *Index {
	key := r.ContentHash()
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.m[key]; ok {
		return idx
	}
	if len(c.m) >= c.max {
		for k := range c.m {
			delete(c.m, k)
			break
		}
	}
	idx := NewIndex(r)
	c.m[key] = idx
	return idx
}

// Default is the process-wide cache, mirroring how router registries are
// shared elsewhere in the codebase.
var Default = NewCache(defaultCacheSize)
