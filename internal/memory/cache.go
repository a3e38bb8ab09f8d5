package memory

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rec     Record
	addedAt time.Time
}

// Cache keeps the most recent short-term records per owner in process.
// Entries expire by age on Sweep and by count on Add. Context assembly
// reads sqlite, not this cache: the store writes it on every Remember but
// only Len consults it (for Summary stats), keeping the source system's
// write-only recent buffer.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]cacheEntry
	cap     int
	maxAge  time.Duration
}

func NewCache(cap int, maxAge time.Duration) *Cache {
	if cap <= 0 {
		cap = 20
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Cache{
		entries: make(map[string][]cacheEntry),
		cap:     cap,
		maxAge:  maxAge,
	}
}

func (c *Cache) Add(owner string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append(c.entries[owner], cacheEntry{rec: rec, addedAt: time.Now()})
	if len(list) > c.cap {
		list = list[len(list)-c.cap:]
	}
	c.entries[owner] = list
}

// Entries returns the cached records for owner, oldest first. No serving
// path calls it; sqlite stays authoritative for context reads.
func (c *Cache) Entries(owner string) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[owner]
	out := make([]Record, len(list))
	for i, e := range list {
		out[i] = e.rec
	}
	return out
}

func (c *Cache) Len(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[owner])
}

// Sweep drops entries older than maxAge and removes owners left empty.
// Returns the number of entries removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.maxAge)
	removed := 0
	for owner, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			if e.addedAt.After(cutoff) {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(c.entries, owner)
		} else {
			c.entries[owner] = kept
		}
	}
	return removed
}
