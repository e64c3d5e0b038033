// ABOUTME: Bounded TTL cache of request outcomes keyed by idempotency key
// ABOUTME: Lets the API replay a completed send or reject a concurrent duplicate

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when New is given non-positive limits.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxKeys = 10000
)

// Outcome tells the caller what to do with a request.
type Outcome int

const (
	// Proceed means the key is new and now reserved for this caller.
	Proceed Outcome = iota
	// Replay means the key already completed; the stored Result applies.
	Replay
	// InFlight means another request with the same key is still running.
	InFlight
)

// Result is the stored response of a completed request.
type Result struct {
	Status int
	Body   []byte
}

type entry struct {
	key      string
	storedAt time.Time
	done     bool
	result   Result
	element  *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited store of request outcomes.
// A doubly-linked list keeps insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxKeys int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Begin reserves key for the caller unless it is already known. For Replay
// the stored result is returned.
func (c *Cache) Begin(key string) (Outcome, Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if c.now().Sub(e.storedAt) < c.ttl {
			if e.done {
				return Replay, e.result
			}
			return InFlight, Result{}
		}
		c.removeLocked(e)
	}

	if len(c.entries) >= c.maxKeys {
		c.evictOldestLocked()
	}
	e := &entry{key: key, storedAt: c.now()}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
	return Proceed, Result{}
}

// Complete stores the result for a key reserved by Begin.
func (c *Cache) Complete(key string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.done = true
	e.result = res
	e.storedAt = c.now()
	c.order.MoveToBack(e.element)
}

// Abort releases a reservation so the key can be tried again.
func (c *Cache) Abort(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.done {
		c.removeLocked(e)
	}
}

// Len returns the number of tracked keys, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked must be called with mu held.
func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}

// evictOldestLocked must be called with mu held.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.removeLocked(front.Value.(*entry))
}

func (c *Cache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops every entry older than the TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			c.removeLocked(e)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
