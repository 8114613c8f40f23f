package cache

import (
	"sync"
	"time"
)

// NegativeCache remembers keys that recently missed every tier, so repeated
// lookups for absent keys can be answered locally instead of re-traversing
// the tier chain. Entries age out after a short TTL and are dropped the
// moment the key is written or deleted.
type NegativeCache struct {
	ttl     time.Duration
	entries map[string]time.Time
	mu      sync.RWMutex

	stopCleanup chan struct{}
	cleanupDone chan struct{}

	now func() time.Time
}

// NewNegativeCache creates a negative cache with the given TTL for
// remembered misses. A non-positive TTL defaults to one minute.
func NewNegativeCache(ttl time.Duration) *NegativeCache {
	if ttl <= 0 {
		ttl = 1 * time.Minute
	}

	nc := &NegativeCache{
		ttl:         ttl,
		entries:     make(map[string]time.Time),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		now:         time.Now,
	}

	go nc.cleanup()

	return nc
}

// MarkMiss records that key was absent from every tier.
func (nc *NegativeCache) MarkMiss(key string) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	nc.entries[key] = nc.now().Add(nc.ttl)
}

// IsMiss reports whether key has a still-valid remembered miss.
func (nc *NegativeCache) IsMiss(key string) bool {
	nc.mu.RLock()
	defer nc.mu.RUnlock()

	expiresAt, ok := nc.entries[key]
	if !ok {
		return false
	}
	return nc.now().Before(expiresAt)
}

// Forget drops any remembered miss for key. Called on every set and delete
// so writes become visible immediately.
func (nc *NegativeCache) Forget(key string) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	delete(nc.entries, key)
}

// Len returns the number of remembered misses, including not-yet-swept
// expired ones.
func (nc *NegativeCache) Len() int {
	nc.mu.RLock()
	defer nc.mu.RUnlock()

	return len(nc.entries)
}

// TTL returns the configured miss TTL.
func (nc *NegativeCache) TTL() time.Duration {
	return nc.ttl
}

// Close stops the background janitor.
func (nc *NegativeCache) Close() {
	close(nc.stopCleanup)
	<-nc.cleanupDone
}

// cleanup periodically removes expired remembered misses.
func (nc *NegativeCache) cleanup() {
	defer close(nc.cleanupDone)

	ticker := time.NewTicker(nc.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			nc.sweep()
		case <-nc.stopCleanup:
			return
		}
	}
}

// sweep removes expired entries.
func (nc *NegativeCache) sweep() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	now := nc.now()
	for key, expiresAt := range nc.entries {
		if now.After(expiresAt) {
			delete(nc.entries, key)
		}
	}
}
