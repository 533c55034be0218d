package source

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL so redelivered messages are skipped.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	limit int
}

func NewDedupeCache(limit int) *DedupeCache {
	if limit <= 0 {
		limit = 10000
	}
	return &DedupeCache{items: make(map[string]time.Time), limit: limit}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.limit {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
