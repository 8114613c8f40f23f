// Package eviction provides the pluggable eviction policies used by the
// memory tier: LRU, LFU, and FIFO.
//
// A Policy only tracks ordering metadata; it never stores values. The owning
// tier calls OnGet/OnPut/Remove under its own lock and asks Evict for the
// next victim when it is over capacity. Policies are not safe for concurrent
// use on their own.
package eviction

import "fmt"

// PolicyType selects an eviction policy implementation.
type PolicyType string

const (
	// LRU evicts the least recently accessed key.
	LRU PolicyType = "lru"

	// LFU evicts a key from the lowest access-frequency bucket.
	LFU PolicyType = "lfu"

	// FIFO evicts the oldest inserted key regardless of access pattern.
	FIFO PolicyType = "fifo"
)

// Policy tracks key access/insertion order and chooses eviction victims.
type Policy interface {
	// OnGet records an access to key. Unknown keys are ignored.
	OnGet(key string)

	// OnPut records an insert of key, or an access when it already exists.
	OnPut(key string)

	// Remove drops key from the policy's bookkeeping (explicit delete or
	// expiry). Unknown keys are ignored.
	Remove(key string)

	// Evict chooses a victim according to the policy, removes it from the
	// bookkeeping, and returns its key. Returns "" when empty.
	Evict() string

	// Len returns the number of tracked keys.
	Len() int
}

// New creates a policy of the given type.
func New(pt PolicyType) (Policy, error) {
	switch pt {
	case LRU:
		return newLRU(), nil
	case LFU:
		return newLFU(), nil
	case FIFO:
		return newFIFO(), nil
	default:
		return nil, fmt.Errorf("eviction: unknown policy type %q", pt)
	}
}
