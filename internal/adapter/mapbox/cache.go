package mapbox

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/observability"
)

// CachedGeocoder memoizes successful lookups of a Geocoder. Listings are
// often re-published with the same address, and the stored coordinates on a
// listing only help once it has been enriched at least once.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) Name() string { return c.inner.Name() }

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	key := addressKey(address)
	if result, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.Geocode(ctx, address)
	if err != nil || !result.Found() {
		// Misses stay uncached so a later listing update can resolve.
		return result, err
	}
	c.cache.put(key, result)
	return result, nil
}

// addressKey folds case and whitespace, including around the comma-separated
// address parts ("Calle Uría 10 ,Oviedo" and "calle uría 10, oviedo" match).
func addressKey(address string) string {
	parts := strings.Split(strings.ToLower(address), ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

type lruEntry struct {
	key   string
	value domain.GeocodingResult
}

// lruCache is a fixed-size, mutex-guarded LRU. The front of order is the most
// recently used entry.
type lruCache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	index map[string]*list.Element
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		max:   max(maxEntries, 1),
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (domain.GeocodingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return domain.GeocodingResult{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) put(key string, value domain.GeocodingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(&lruEntry{key: key, value: value})

	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*lruEntry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
