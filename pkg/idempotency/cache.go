// Package idempotency provides the in-memory fast-path cache the
// discovery pipeline consults before hitting the repository's
// uniqueness check. It never replaces the repository as the source of
// truth — a cache miss still falls through to a real lookup — but it
// keeps a configuration that fires every few minutes from re-querying
// the same (tenantId, configId, fileUrl, discoveryDate) key on every
// pass over an unchanged remote directory listing.
package idempotency

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/internal/metrics"
)

// Config controls the cache's size and expiry.
type Config struct {
	MaxEntries      int
	TTL             time.Duration
	CleanupInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100_000
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
}

type entry struct {
	key       string
	createdAt time.Time

	prev *entry
	next *entry
}

// Cache is an LRU cache with TTL expiry, keyed by the idempotency key
// (types.DiscoveredFile.IdempotencyKey()) hashed with xxhash; the map
// is indexed by the hash, and each list entry also keeps the full key.
type Cache struct {
	config Config
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[uint64]*entry
	head    *entry
	tail    *entry

	checks    int64
	hits      int64
	evictions int64

	ctx    chan struct{}
}

// NewCache creates a Cache and starts its background cleanup loop.
func NewCache(config Config, logger *logrus.Logger) *Cache {
	config.applyDefaults()

	c := &Cache{
		config:  config,
		logger:  logger,
		entries: make(map[uint64]*entry),
		ctx:     make(chan struct{}),
	}
	c.head = &entry{}
	c.tail = &entry{}
	c.head.next = c.tail
	c.tail.prev = c.head

	go c.cleanupLoop()
	return c
}

func hash(key string) uint64 {
	h := xxhash.New()
	h.Write([]byte(key))
	return h.Sum64()
}

// SeenRecently reports whether key was recorded within the TTL. It
// does not itself record key — callers call Record after confirming
// the file is genuinely new via the repository.
func (c *Cache) SeenRecently(key string) bool {
	h := hash(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks++

	e, ok := c.entries[h]
	if !ok {
		return false
	}
	if time.Since(e.createdAt) > c.config.TTL {
		c.remove(e)
		return false
	}

	c.hits++
	c.moveToFront(e)
	return true
}

// Record marks key as seen, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Record(key string) {
	h := hash(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[h]; ok {
		e.createdAt = time.Now()
		c.moveToFront(e)
		return
	}

	if len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}

	e := &entry{key: key, createdAt: time.Now()}
	c.entries[h] = e
	c.addToFront(e)
}

func (c *Cache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) removeFromList(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *Cache) moveToFront(e *entry) {
	c.removeFromList(e)
	c.addToFront(e)
}

func (c *Cache) remove(e *entry) {
	delete(c.entries, hash(e.key))
	c.removeFromList(e)
	c.evictions++
	metrics.IdempotencyCacheEvictionsTotal.Inc()
}

func (c *Cache) evictOldest() {
	if c.tail.prev != c.head {
		c.remove(c.tail.prev)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	metricsTicker := time.NewTicker(10 * time.Second)
	defer metricsTicker.Stop()

	for {
		select {
		case <-c.ctx:
			return
		case <-ticker.C:
			c.expireStale()
		case <-metricsTicker.C:
			c.updateMetrics()
		}
	}
}

func (c *Cache) expireStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var stale []*entry
	for _, e := range c.entries {
		if now.Sub(e.createdAt) > c.config.TTL {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		c.remove(e)
	}
}

func (c *Cache) updateMetrics() {
	c.mu.Lock()
	size := len(c.entries)
	checks, hits := c.checks, c.hits
	c.mu.Unlock()

	metrics.IdempotencyCacheSize.Set(float64(size))
	if checks > 0 {
		metrics.IdempotencyCacheHitRate.Set(float64(hits) / float64(checks))
	}
}

// Close stops the background cleanup loop.
func (c *Cache) Close() {
	close(c.ctx)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int
	Checks    int64
	Hits      int64
	Evictions int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.entries), Checks: c.checks, Hits: c.hits, Evictions: c.evictions}
}
