package notify

import (
	"sync"
	"time"
)

// dedup suppresses repeat alerts for the same key inside a TTL window. It is
// safe for concurrent use.
type dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // key -> last delivery
	ttl  time.Duration
	now  func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// allow reports whether key may be delivered now, and records it if so. A
// zero TTL disables suppression.
func (d *dedup) allow(key string) bool {
	if d.ttl <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return false
	}
	d.seen[key] = now

	// Opportunistic sweep keeps the map bounded by the number of keys seen
	// within one TTL.
	if len(d.seen) > 256 {
		for k, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, k)
			}
		}
	}
	return true
}

// forget drops key so the next delivery is allowed immediately.
func (d *dedup) forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}
