package executor

import (
	"sync"
	"time"
)

// Dedup remembers which opportunity fingerprints were recently attempted.
// A fingerprint is claimed before execution starts and released again when
// nothing reached the exchange.
type Dedup struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewDedup creates a Dedup whose claims expire after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{claimed: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Claim reserves fp. It reports false while an unexpired claim exists.
func (d *Dedup) Claim(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if at, ok := d.claimed[fp]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.claimed[fp] = now
	return true
}

// Release drops the claim on fp so the opportunity can be retried.
func (d *Dedup) Release(fp string) {
	d.mu.Lock()
	delete(d.claimed, fp)
	d.mu.Unlock()
}

// Sweep forgets expired claims.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.ttl)
	for fp, at := range d.claimed {
		if !at.After(cutoff) {
			delete(d.claimed, fp)
		}
	}
}

// Len returns the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.claimed)
}
