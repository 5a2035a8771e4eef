package sampler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
)

// DefaultCacheEntries bounds a Cache created with a non-positive size.
const DefaultCacheEntries = 32

// Cache is a concurrency-safe, size-bounded grid cache in front of a
// Sampler. Only URL references are cached; files and raw bytes are sampled
// every time so a photo edited on disk is picked up on reload. The least
// recently used grid is evicted once the cache is full.
type Cache struct {
	s *Sampler

	mu    sync.Mutex
	items *lru.Cache
}

// NewCache wraps s, keeping at most entries grids.
func NewCache(s *Sampler, entries int) *Cache {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	return &Cache{s: s, items: lru.New(entries)}
}

// cacheKey reports the key for src and whether src is cacheable. data: URLs
// are keyed by digest so the cache does not hold the encoded payload.
func cacheKey(src Source) (string, bool) {
	if src.Data != nil {
		return "", false
	}
	switch {
	case strings.HasPrefix(src.Ref, "data:"):
		sum := sha256.Sum256([]byte(src.Ref))
		return "data:" + hex.EncodeToString(sum[:]), true
	case strings.HasPrefix(src.Ref, "http://"), strings.HasPrefix(src.Ref, "https://"):
		return src.Ref, true
	}
	return "", false
}

// Sample returns the cached grid for src or samples and caches it. Grids
// are shared between callers and must not be modified. Failures are not
// cached.
func (c *Cache) Sample(ctx context.Context, src Source) (*Grid, error) {
	key, ok := cacheKey(src)
	if !ok {
		return c.s.Sample(ctx, src)
	}

	c.mu.Lock()
	v, ok := c.items.Get(key)
	c.mu.Unlock()
	if ok {
		return v.(*Grid), nil
	}

	g, err := c.s.Sample(ctx, src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.items.Get(key); ok {
		return prev.(*Grid), nil
	}
	c.items.Add(key, g)
	return g, nil
}

// Len is the number of cached grids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}
