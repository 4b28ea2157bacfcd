// ABOUTME: TTL cache that remembers recently executed JSON-RPC request keys.
// ABOUTME: Guards sessions against a client re-submitting the same call id.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long an executed request key is remembered.
const DefaultTTL = 10 * time.Minute

// DefaultMaxSize bounds the number of remembered keys.
const DefaultMaxSize = 10000

type cacheEntry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for a fixed TTL, evicting the oldest key once full.
// Keys live in a list ordered by mark time so eviction and expiry walk from
// the front.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache. Non-positive arguments fall back to the defaults.
// A background goroutine sweeps expired keys until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

// RequestKey builds the cache key for a request id within a session.
func RequestKey(sessionID string, requestID []byte) string {
	return sessionID + ":" + string(requestID)
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark marks key and reports whether it was already live.
// The check and the mark happen under one lock.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget drops key so it may be submitted again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.seen[key]; ok {
		c.removeLocked(elem)
	}
}

// ForgetPrefix drops every key starting with prefix. Used when a session
// closes so its request ids do not linger until expiry.
func (c *Cache) ForgetPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.seen {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(elem)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string) bool {
	elem, ok := c.seen[key]
	if !ok {
		return false
	}
	return c.now().Sub(elem.Value.(*cacheEntry).seenAt) < c.ttl
}

func (c *Cache) markLocked(key string) {
	if elem, ok := c.seen[key]; ok {
		c.removeLocked(elem)
	}
	for len(c.seen) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.removeLocked(front)
	}
	c.seen[key] = c.order.PushBack(&cacheEntry{key: key, seenAt: c.now()})
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := c.order.Remove(elem).(*cacheEntry)
	delete(c.seen, entry.key)
}

// sweep removes expired keys from the front of the list.
func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*cacheEntry).seenAt) < c.ttl {
			break
		}
		c.removeLocked(front)
		removed++
	}
	return removed
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
