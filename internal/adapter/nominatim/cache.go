package nominatim

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/observability"
)

// Backend is what CachedGeocoder wraps: both lookup directions.
type Backend interface {
	domain.Geocoder
	domain.ReverseGeocoder
}

// CachedGeocoder wraps a Backend with in-memory LRU caches.
type CachedGeocoder struct {
	inner   Backend
	forward *lruCache[domain.GeocodingResult]
	reverse *lruCache[string]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator holding up to maxEntries results
// per direction.
func NewCachedGeocoder(inner Backend, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		forward: newLRUCache[domain.GeocodingResult](maxEntries),
		reverse: newLRUCache[string](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	if result, ok := c.forward.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("forward", "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("forward", "miss").Inc()

	result, err := c.inner.ForwardGeocode(ctx, address)
	if err != nil {
		return result, err
	}
	// Only found results are cached so an empty answer can be retried later.
	if result.Found {
		c.forward.put(key, result)
	}
	return result, nil
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	key := fmt.Sprintf("%.6f,%.6f", lat, lng)
	if address, ok := c.reverse.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("reverse", "hit").Inc()
		return address, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("reverse", "miss").Inc()

	address, err := c.inner.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		return address, err
	}
	if address != "" {
		c.reverse.put(key, address)
	}
	return address, nil
}

// lruCache is a small thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache[V]) pushFront(e *entry[V]) {
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

func (c *lruCache[V]) unlink(e *entry[V]) {
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

func (c *lruCache[V]) evictOldest() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
