package forecast

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

// NetworkKey identifies a loaded network: the same assets compiled for
// different backends are distinct entries.
type NetworkKey struct {
	AssetsDir string
	Backend   string
}

func (k NetworkKey) String() string {
	return fmt.Sprintf("%s|%s", k.AssetsDir, k.Backend)
}

// NetworkLoader loads and compiles the network for a key.
type NetworkLoader func(key NetworkKey) (Network, error)

// NetworkCache keeps recently used compiled networks in an LRU. Evicted
// networks implementing io.Closer are closed, so callers must not hold a
// network across a Get for a different key.
type NetworkCache struct {
	load    NetworkLoader
	cache   *lruCache
	loadMu  sync.Mutex
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewNetworkCache creates a cache holding at most maxEntries networks.
func NewNetworkCache(load NetworkLoader, maxEntries int, logger *slog.Logger, metrics *observability.Metrics) *NetworkCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	c := &NetworkCache{load: load, logger: logger, metrics: metrics}
	c.cache = newLRUCache(maxEntries, c.evicted)
	return c
}

// Get returns the cached network for key, loading it on a miss. Concurrent
// misses are serialised so a network is compiled once.
func (c *NetworkCache) Get(key NetworkKey) (Network, error) {
	k := key.String()
	if net, ok := c.cache.get(k); ok {
		c.metrics.NetworkCache.WithLabelValues("hit").Inc()
		return net, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if net, ok := c.cache.get(k); ok {
		c.metrics.NetworkCache.WithLabelValues("hit").Inc()
		return net, nil
	}
	c.metrics.NetworkCache.WithLabelValues("miss").Inc()

	start := time.Now()
	net, err := c.load(key)
	if err != nil {
		return nil, fmt.Errorf("load network %s: %w", k, err)
	}
	c.metrics.NetworkLoadDelay.Observe(time.Since(start).Seconds())
	c.cache.put(k, net)
	return net, nil
}

// Close releases every cached network.
func (c *NetworkCache) Close() error {
	var firstErr error
	for _, net := range c.cache.drain() {
		if err := closeNetwork(net); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *NetworkCache) evicted(key string, net Network) {
	c.logger.Info("network evicted", "key", key)
	if err := closeNetwork(net); err != nil {
		c.logger.Warn("close evicted network failed", "key", key, "error", err)
	}
}

func closeNetwork(net Network) error {
	if cl, ok := net.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// lruCache is a simple thread-safe LRU cache of networks.
type lruCache struct {
	maxEntries int
	onEvict    func(key string, value Network)
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value Network
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int, onEvict func(string, Network)) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		onEvict:    onEvict,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (Network, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value Network) {
	c.mu.Lock()
	var evicted *entry
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
	} else {
		e := &entry{key: key, value: value}
		c.entries[key] = e
		c.addToFront(e)
		if len(c.entries) > c.maxEntries {
			evicted = c.evictTail()
		}
	}
	c.mu.Unlock()

	if evicted != nil && c.onEvict != nil {
		c.onEvict(evicted.key, evicted.value)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// drain empties the cache and returns its values, most recent first.
func (c *lruCache) drain() []Network {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Network, 0, len(c.entries))
	for e := c.head; e != nil; e = e.next {
		out = append(out, e.value)
	}
	c.entries = make(map[string]*entry)
	c.head, c.tail = nil, nil
	return out
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

func (c *lruCache) evictTail() *entry {
	if c.tail == nil {
		return nil
	}
	e := c.tail
	delete(c.entries, e.key)
	c.remove(e)
	return e
}
