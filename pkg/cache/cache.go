package cache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe in-memory cache whose entries expire. Expired entries
// are invisible to readers and are swept by a background goroutine.
type TTL[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]item[V]
	defaultTTL time.Duration
	now        func() time.Time

	// inflight collapses concurrent GetOrLoad misses for one key.
	loadMu   sync.Mutex
	inflight map[K]*load[V]

	stop     chan struct{}
	stopOnce sync.Once
}

type load[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func NewTTL[K comparable, V any](defaultTTL time.Duration) *TTL[K, V] {
	c := &TTL[K, V]{
		items:      make(map[K]item[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		inflight:   make(map[K]*load[V]),
		stop:       make(chan struct{}),
	}
	if interval := defaultTTL / 2; interval > 0 {
		go c.sweep(interval)
	}
	return c
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *TTL[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len counts entries that have not expired yet.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	n := 0
	for _, it := range c.items {
		if now.Before(it.expiresAt) {
			n++
		}
	}
	return n
}

// GetOrLoad returns the cached value or calls loader once for all concurrent
// callers of the same key. The loader picks the entry's TTL; a non-positive
// TTL uses the default. Errors are not cached.
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, loader func(ctx context.Context) (V, time.Duration, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.loadMu.Lock()
	if l, ok := c.inflight[key]; ok {
		c.loadMu.Unlock()
		select {
		case <-l.done:
			return l.value, l.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	l := &load[V]{done: make(chan struct{})}
	c.inflight[key] = l
	c.loadMu.Unlock()

	v, ttl, err := loader(ctx)
	if err == nil {
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		c.SetWithTTL(key, v, ttl)
	}
	l.value, l.err = v, err

	c.loadMu.Lock()
	delete(c.inflight, key)
	c.loadMu.Unlock()
	close(l.done)

	return v, err
}

// Close stops the sweeper.
func (c *TTL[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTL[K, V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, k)
		}
	}
}

func (c *TTL[K, V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stop:
			return
		}
	}
}
