package bus

import (
	"container/list"
	"sync"
	"time"
)

// DedupeEntry is the recorded outcome of a completed operation. Replays of
// the same idempotency key return the entry instead of re-running the
// operation.
type DedupeEntry struct {
	OK      bool
	Payload interface{}
	Error   string // error code for failed operations, "" on success
}

type dedupeRecord struct {
	key     string
	entry   DedupeEntry
	expires time.Time
}

// DedupeCache is a TTL-bounded, size-capped idempotency cache. Entries are
// evicted oldest-first when the cap is reached, lazily when expired.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]*list.Element
	order   *list.List // front = oldest

	now func() time.Time // test hook
}

// NewDedupeCache creates a cache holding at most max entries for ttl each.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 5000
	}
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached entry for key, if present and unexpired.
func (c *DedupeCache) Get(key string) (DedupeEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return DedupeEntry{}, false
	}
	rec := el.Value.(*dedupeRecord)
	if c.now().After(rec.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return DedupeEntry{}, false
	}
	return rec.entry, true
}

// Set records the outcome for key, overwriting any previous entry and
// resetting its TTL.
func (c *DedupeCache) Set(key string, entry DedupeEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		rec := el.Value.(*dedupeRecord)
		rec.entry = entry
		rec.expires = c.now().Add(c.ttl)
		c.order.MoveToBack(el)
		return
	}

	for len(c.entries) >= c.max {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*dedupeRecord).key)
	}

	rec := &dedupeRecord{key: key, entry: entry, expires: c.now().Add(c.ttl)}
	c.entries[key] = c.order.PushBack(rec)
}

// Seen reports whether key was marked before, marking it either way.
// Used for inbound message dedupe where only presence matters.
func (c *DedupeCache) Seen(key string) bool {
	if _, ok := c.Get(key); ok {
		return true
	}
	c.Set(key, DedupeEntry{OK: true})
	return false
}

// Len returns the number of live entries, counting expired ones not yet
// swept.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
