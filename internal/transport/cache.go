package transport

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
)

// CachedOracle wraps an Oracle with an in-memory LRU cache keyed by the
// unordered pair of signature fingerprints. Transport cost is symmetric, so
// a hit stored in the opposite orientation is returned with its plan reversed.
type CachedOracle struct {
	inner   Oracle
	cache   *lruCache
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedOracle creates a cache decorator around an oracle. metrics may be nil.
func NewCachedOracle(inner Oracle, maxEntries int, metrics *observability.Metrics) *CachedOracle {
	return &CachedOracle{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedOracle) Transport(ctx context.Context, a, b domain.Signature) (domain.Transport, error) {
	fa, fb := a.Fingerprint(), b.Fingerprint()
	swapped := fb < fa
	key := fa + "|" + fb
	if swapped {
		key = fb + "|" + fa
	}

	if result, ok := c.cache.get(key); ok {
		c.count("hit")
		return orient(result, swapped), nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		first, second := a, b
		if swapped {
			first, second = b, a
		}
		result, err := c.inner.Transport(ctx, first, second)
		if err != nil {
			return domain.Transport{}, err
		}
		c.cache.put(key, result)
		return result, nil
	})
	if err != nil {
		return domain.Transport{}, err
	}
	if shared {
		c.count("shared")
	} else {
		c.count("miss")
	}
	return orient(v.(domain.Transport), swapped), nil
}

func (c *CachedOracle) count(result string) {
	if c.metrics != nil {
		c.metrics.OracleCache.WithLabelValues(result).Inc()
	}
}

func orient(t domain.Transport, swapped bool) domain.Transport {
	if swapped {
		return t.Reversed()
	}
	return t
}

// lruCache is a simple thread-safe LRU cache for transport results.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Transport
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Transport{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries <= 0 {
		return
	}
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
