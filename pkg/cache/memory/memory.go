// Package memory implements the in-process cache tier: a bounded map behind
// a single mutex with pluggable eviction, lazy expiry on read, and a
// periodic sweep. Eviction order is tracked globally, so the policy's exact
// victim is observable regardless of how many entries the tier holds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache/eviction"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"
)

// MemoryTier is an in-memory cache tier bounded by entry count and estimated
// bytes. All bookkeeping (map, eviction policy, size accounting) lives behind
// one mutex; every critical section is O(1) or amortized O(1).
type MemoryTier struct {
	// entries stores the cached values with their metadata
	entries map[string]*entry

	// policy decides the eviction victim when a bound is exceeded
	policy eviction.Policy

	// bytes is the estimated total size of stored values
	bytes int64

	// mu protects entries, policy, bytes, and the counters
	mu sync.Mutex

	config    MemoryTierConfig
	collector metrics.Collector

	expiredEvictions  uint64
	capacityEvictions uint64
	closed            bool

	// sweepTicker drives the background expiry sweep
	sweepTicker *time.Ticker

	// stopSweep signals the sweep goroutine to stop
	stopSweep chan struct{}

	// wg waits for the sweep goroutine to finish
	wg sync.WaitGroup

	// now is replaced in tests to control expiry
	now func() time.Time
}

// entry is a stored value with its per-tier metadata.
type entry struct {
	value interface{}
	meta  cache.Metadata
}

// MemoryTierConfig holds configuration for the memory tier.
type MemoryTierConfig struct {
	// Name is the tier identifier
	Name string

	// MaxEntries is the maximum number of entries (0 = unlimited)
	MaxEntries int

	// MaxBytes is the maximum estimated total value size (0 = unlimited).
	// A single value larger than MaxBytes is rejected outright.
	MaxBytes int64

	// Policy selects the eviction policy (lru, lfu, fifo); defaults to LRU
	Policy eviction.PolicyType

	// SweepInterval is how often the background sweep removes expired
	// entries. Zero selects the default; negative disables the sweep
	// (expiry is still enforced lazily on access).
	SweepInterval time.Duration

	// Metrics receives eviction events; nil means no metrics
	Metrics metrics.Collector
}

// DefaultMemoryTierConfig returns a production-leaning configuration.
func DefaultMemoryTierConfig() MemoryTierConfig {
	return MemoryTierConfig{
		Name:          "memory",
		MaxEntries:    10000,
		MaxBytes:      100 << 20,
		Policy:        eviction.LRU,
		SweepInterval: time.Minute,
	}
}

// Validate checks the configuration for values that cannot work.
func (c *MemoryTierConfig) Validate() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("memory: MaxEntries must be >= 0, got %d", c.MaxEntries)
	}
	if c.MaxBytes < 0 {
		return fmt.Errorf("memory: MaxBytes must be >= 0, got %d", c.MaxBytes)
	}
	if c.Policy != "" {
		if _, err := eviction.New(c.Policy); err != nil {
			return err
		}
	}
	return nil
}

// NewMemoryTier creates a memory tier and starts its expiry sweep.
func NewMemoryTier(config MemoryTierConfig) (*MemoryTier, error) {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.Policy == "" {
		config.Policy = eviction.LRU
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = time.Minute
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	policy, err := eviction.New(config.Policy)
	if err != nil {
		return nil, err
	}

	t := &MemoryTier{
		entries:   make(map[string]*entry),
		policy:    policy,
		config:    config,
		collector: config.Metrics,
		stopSweep: make(chan struct{}),
		now:       time.Now,
	}

	if config.SweepInterval > 0 {
		t.sweepTicker = time.NewTicker(config.SweepInterval)
		t.wg.Add(1)
		go t.sweepLoop()
	}

	return t, nil
}

// Get retrieves a value. Expired entries are removed on access and reported
// as a miss.
func (t *MemoryTier) Get(ctx context.Context, key string) (interface{}, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, cache.ErrTierClosed
	}

	e, ok := t.entries[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}

	if e.meta.Expired(now) {
		t.dropLocked(key, metrics.EvictionExpired)
		return nil, cache.ErrKeyNotFound
	}

	e.meta.LastAccessed = now
	e.meta.AccessCount++
	t.policy.OnGet(key)

	return e.value, nil
}

// GetWithMetadata retrieves a value together with a copy of its metadata.
// The bool result reports staleness relative to the access before this one.
func (t *MemoryTier) GetWithMetadata(ctx context.Context, key string) (*cache.Entry, bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, false, err
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, false, cache.ErrTierClosed
	}

	e, ok := t.entries[key]
	if !ok {
		return nil, false, cache.ErrKeyNotFound
	}

	if e.meta.Expired(now) {
		t.dropLocked(key, metrics.EvictionExpired)
		return nil, false, cache.ErrKeyNotFound
	}

	stale := e.meta.Stale(now)

	e.meta.LastAccessed = now
	e.meta.AccessCount++
	t.policy.OnGet(key)

	return &cache.Entry{Key: key, Value: e.value, Metadata: e.meta}, stale, nil
}

// Set stores a value. A ttl > 0 expires the entry after that duration;
// ttl <= 0 stores it without expiration. When a bound would be exceeded the
// eviction policy removes victims until the new entry fits; the victims are
// removed before the entry is inserted.
func (t *MemoryTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	size := cache.EstimateSize(value)
	if t.config.MaxBytes > 0 && size > t.config.MaxBytes {
		return fmt.Errorf("%w: value of %d bytes exceeds tier capacity of %d bytes", cache.ErrInvalidValue, size, t.config.MaxBytes)
	}
	if ttl < 0 {
		ttl = 0
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return cache.ErrTierClosed
	}

	if old, ok := t.entries[key]; ok {
		// Overwrite: refresh value, size, and TTL; the write counts as an
		// access for the policy. FIFO keeps the original queue position.
		t.bytes += size - old.meta.Size
		old.value = value
		old.meta.CreatedAt = now
		old.meta.LastAccessed = now
		old.meta.AccessCount++
		old.meta.TTL = ttl
		old.meta.Size = size
		old.meta.Version++
		t.policy.OnPut(key)
		t.makeRoomLocked(0, 0, key)
		return nil
	}

	t.makeRoomLocked(1, size, "")

	t.entries[key] = &entry{
		value: value,
		meta: cache.Metadata{
			CreatedAt:    now,
			LastAccessed: now,
			TTL:          ttl,
			Size:         size,
			Tier:         cache.KindMemory,
		},
	}
	t.bytes += size
	t.policy.OnPut(key)

	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (t *MemoryTier) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return cache.ErrTierClosed
	}

	t.removeLocked(key)
	return nil
}

// Touch bumps a key's access metadata without reading the value. Used to
// de-stale an entry after a refresh decision.
func (t *MemoryTier) Touch(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return cache.ErrTierClosed
	}

	e, ok := t.entries[key]
	if !ok {
		return cache.ErrKeyNotFound
	}
	if e.meta.Expired(now) {
		t.dropLocked(key, metrics.EvictionExpired)
		return cache.ErrKeyNotFound
	}

	e.meta.LastAccessed = now
	e.meta.AccessCount++
	t.policy.OnGet(key)
	return nil
}

// MGet retrieves multiple keys in one lock acquisition. Misses are simply
// absent from the result; invalid keys are reported in the joined error.
func (t *MemoryTier) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	now := t.now()
	var errs []error

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, cache.ErrTierClosed
	}

	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", key, err))
			continue
		}
		e, ok := t.entries[key]
		if !ok {
			continue
		}
		if e.meta.Expired(now) {
			t.dropLocked(key, metrics.EvictionExpired)
			continue
		}
		e.meta.LastAccessed = now
		e.meta.AccessCount++
		t.policy.OnGet(key)
		result[key] = e.value
	}

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// MSet stores multiple values with a shared TTL. All keys are validated
// before any write so a bad key does not leave a partial batch behind.
func (t *MemoryTier) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	for key, value := range items {
		if err := cache.ValidateKey(key); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		size := cache.EstimateSize(value)
		if t.config.MaxBytes > 0 && size > t.config.MaxBytes {
			return fmt.Errorf("key %q: %w: value of %d bytes exceeds tier capacity", key, cache.ErrInvalidValue, size)
		}
	}

	for key, value := range items {
		if err := t.Set(ctx, key, value, ttl); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// MDelete removes multiple keys.
func (t *MemoryTier) MDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return cache.ErrTierClosed
	}

	var errs []error
	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", key, err))
			continue
		}
		t.removeLocked(key)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern and returns how
// many were removed.
func (t *MemoryTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	re, err := cache.CompilePattern(pattern)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, cache.ErrTierClosed
	}

	var matched []string
	for key := range t.entries {
		if re.MatchString(key) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		t.removeLocked(key)
	}

	return len(matched), nil
}

// Cleanup removes all expired entries and returns how many were dropped.
// The background sweep calls this on its ticker; it is exported so callers
// can force a sweep (tests, maintenance jobs).
func (t *MemoryTier) Cleanup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, cache.ErrTierClosed
	}

	var expired []string
	for key, e := range t.entries {
		if e.meta.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		t.dropLocked(key, metrics.EvictionExpired)
	}

	return len(expired), nil
}

// Name returns the tier identifier.
func (t *MemoryTier) Name() string {
	return t.config.Name
}

// Len returns the current number of entries.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Bytes returns the estimated total size of stored values.
func (t *MemoryTier) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// Close stops the sweep goroutine and releases all entries. Operations after
// Close return ErrTierClosed.
func (t *MemoryTier) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.entries = make(map[string]*entry)
	t.bytes = 0
	t.mu.Unlock()

	if t.sweepTicker != nil {
		t.sweepTicker.Stop()
	}
	close(t.stopSweep)
	t.wg.Wait()

	return nil
}

// sweepLoop runs in a background goroutine and periodically removes expired
// entries.
func (t *MemoryTier) sweepLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.sweepTicker.C:
			t.Cleanup(context.Background())
		case <-t.stopSweep:
			return
		}
	}
}

// makeRoomLocked evicts policy victims until the tier can admit extraEntries
// new entries and extraBytes additional bytes. The exempt key (the one being
// overwritten) is never evicted; if the policy names it, it is held aside and
// reinstated after the loop.
func (t *MemoryTier) makeRoomLocked(extraEntries int, extraBytes int64, exempt string) {
	var held bool
	for t.overBudgetLocked(extraEntries, extraBytes) {
		victim := t.policy.Evict()
		if victim == "" {
			break
		}
		if victim == exempt {
			held = true
			continue
		}
		t.dropLocked(victim, metrics.EvictionCapacity)
	}
	if held {
		t.policy.OnPut(exempt)
	}
}

func (t *MemoryTier) overBudgetLocked(extraEntries int, extraBytes int64) bool {
	if t.config.MaxEntries > 0 && len(t.entries)+extraEntries > t.config.MaxEntries {
		return true
	}
	if t.config.MaxBytes > 0 && t.bytes+extraBytes > t.config.MaxBytes {
		return true
	}
	return false
}

// dropLocked removes an entry that was already removed from (or never
// reached) the policy's victim selection, recording the eviction reason.
func (t *MemoryTier) dropLocked(key, reason string) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	delete(t.entries, key)
	t.bytes -= e.meta.Size
	t.policy.Remove(key)

	switch reason {
	case metrics.EvictionExpired:
		t.expiredEvictions++
	case metrics.EvictionCapacity:
		t.capacityEvictions++
	}
	t.collector.RecordEviction(t.config.Name, reason)
}

// removeLocked removes an entry without counting it as an eviction.
func (t *MemoryTier) removeLocked(key string) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	delete(t.entries, key)
	t.bytes -= e.meta.Size
	t.policy.Remove(key)
}

// Stats returns current tier statistics.
func (t *MemoryTier) Stats() MemoryTierStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := MemoryTierStats{
		Entries:           len(t.entries),
		MaxEntries:        t.config.MaxEntries,
		Bytes:             t.bytes,
		MaxBytes:          t.config.MaxBytes,
		ExpiredEvictions:  t.expiredEvictions,
		CapacityEvictions: t.capacityEvictions,
	}

	return stats
}

// MemoryTierStats holds tier statistics.
type MemoryTierStats struct {
	Entries           int    // Current number of entries
	MaxEntries        int    // Maximum allowed entries (0 = unlimited)
	Bytes             int64  // Estimated total value size
	MaxBytes          int64  // Maximum allowed bytes (0 = unlimited)
	ExpiredEvictions  uint64 // Entries dropped because they expired
	CapacityEvictions uint64 // Entries dropped to make room
}
