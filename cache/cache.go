package cache

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Cache maps (name, type) to the last successful upstream answer. Entries
// carry a single fixed TTL and expire lazily: an entry older than the TTL
// is treated as absent at lookup time, there is no background sweep.
type Cache struct {
	mu sync.RWMutex

	ttl     time.Duration
	entries map[uint64]entry
}

type entry struct {
	msg    *dns.Msg
	stored time.Time
}

// New returns a cache with the given fixed entry TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[uint64]entry),
	}
}

// Get returns a copy of the stored answer for (qname, qtype), or false if
// there is no entry or the entry's age reached the TTL.
func (c *Cache) Get(qname string, qtype uint16) (*dns.Msg, bool) {
	key := Key(qname, qtype)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Since(e.stored) >= c.ttl {
		return nil, false
	}

	return e.msg.Copy(), true
}

// Store saves a copy of msg for (qname, qtype), overwriting any previous
// entry.
func (c *Cache) Store(qname string, qtype uint16, msg *dns.Msg) {
	key := Key(qname, qtype)

	c.mu.Lock()
	c.entries[key] = entry{msg: msg.Copy(), stored: time.Now()}
	c.mu.Unlock()
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[uint64]entry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
