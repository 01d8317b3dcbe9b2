package store

import (
	"sync"
	"time"
)

// TTLCache holds a single BulkState for a bounded time so that status polls
// don't hit DynamoDB (and, transitively, Shopify) on every request. The clock
// is injectable so expiry is testable without sleeping.
type TTLCache struct {
	mu      sync.Mutex
	val     BulkState
	ok      bool
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewTTLCache(ttl time.Duration) *TTLCache {
	return &TTLCache{ttl: ttl, now: time.Now}
}

func (c *TTLCache) Get() (BulkState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || c.now().After(c.expires) {
		return BulkState{}, false
	}
	return c.val, true
}

func (c *TTLCache) Set(v BulkState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
	c.ok = true
	c.expires = c.now().Add(c.ttl)
}

func (c *TTLCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ok = false
}
