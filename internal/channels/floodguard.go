package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked senders to prevent memory
	// exhaustion from attackers rotating sender ids.
	maxTrackedKeys = 4096

	floodWindow  = 60 * time.Second
	floodMaxHits = 30
)

type floodEntry struct {
	windowStart time.Time
	count       int
}

// FloodGuard bounds inbound message rates per sender with a sliding window.
// Safe for concurrent use.
type FloodGuard struct {
	mu      sync.Mutex
	entries map[string]*floodEntry
}

// NewFloodGuard creates a bounded per-sender rate limiter.
func NewFloodGuard() *FloodGuard {
	return &FloodGuard{entries: make(map[string]*floodEntry)}
}

// Allow returns true if the key is within rate limits. Automatically prunes
// stale entries and enforces a hard cap on tracked keys.
func (g *FloodGuard) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()

	if len(g.entries) >= maxTrackedKeys {
		for k, e := range g.entries {
			if now.Sub(e.windowStart) >= floodWindow {
				delete(g.entries, k)
			}
		}
		for len(g.entries) >= maxTrackedKeys {
			for k := range g.entries {
				delete(g.entries, k)
				break
			}
		}
	}

	e, ok := g.entries[key]
	if !ok || now.Sub(e.windowStart) >= floodWindow {
		g.entries[key] = &floodEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= floodMaxHits
}
