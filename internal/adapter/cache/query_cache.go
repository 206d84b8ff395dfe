package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// QueryCache is an LRU cache of retrieval results with a TTL.
type QueryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	maxSize  int
	ttl      time.Duration
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	results   []domain.ScoredChunk
	timestamp time.Time
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(query string) ([]domain.ScoredChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query)
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.timestamp) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(el)
	return entry.results, true
}

func (c *QueryCache) Put(query string, results []domain.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query)
	entry := &cacheEntry{
		key:       key,
		results:   results,
		timestamp: c.now(),
	}

	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(entry)
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

var _ port.Retriever = (*CachedRetriever)(nil)

// CachedRetriever serves repeated queries from a QueryCache.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
}

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
	}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	if results, hit := r.cache.Get(query); hit {
		return results, nil
	}

	results, err := r.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	r.cache.Put(query, results)
	return results, nil
}
