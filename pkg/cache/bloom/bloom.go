// Package bloom wraps a cache tier with a probabilistic membership filter so
// that reads for keys that were never written can be answered locally without
// a round trip to the tier. It is meant to sit in front of a distributed tier
// where a miss costs a network hop.
//
// The filter only learns keys written through the guard. Keys written by other
// processes are invisible to it and their reads will be rejected, so the guard
// should only front tiers this process owns, or be combined with Warm.
package bloom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// Guard adds probabilistic membership testing in front of a cache tier.
// A negative answer from the filter is definitive, so those reads return
// ErrKeyNotFound without consulting the tier. A positive answer may be a
// false positive, which the guard detects and counts when the tier reports
// a miss anyway.
type Guard struct {
	tier   cache.Tier
	batch  cache.BatchTier
	filter *bloom.BloomFilter
	mu     sync.RWMutex

	expectedItems     uint
	falsePositiveRate float64

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// NewGuard wraps tier with a bloom filter sized for expectedItems at the
// given false positive rate. Out-of-range arguments fall back to 10000
// items at 1%.
func NewGuard(tier cache.Tier, expectedItems uint, falsePositiveRate float64) *Guard {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &Guard{
		tier:              tier,
		batch:             cache.AsBatchTier(tier),
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// Name returns the guarded tier's name wrapped in "bloom(...)".
func (g *Guard) Name() string {
	return "bloom(" + g.tier.Name() + ")"
}

// mayExist tests key against the filter and updates the query counters.
func (g *Guard) mayExist(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalQueries++
	if g.filter.Test([]byte(key)) {
		return true
	}
	g.bloomRejected++
	return false
}

func (g *Guard) recordFalsePositive() {
	g.mu.Lock()
	g.falsePositives++
	g.mu.Unlock()
}

// Get retrieves a value from the guarded tier. Keys the filter has never
// seen miss immediately.
func (g *Guard) Get(ctx context.Context, key string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	if !g.mayExist(key) {
		return nil, cache.ErrKeyNotFound
	}

	value, err := g.tier.Get(ctx, key)
	if cache.IsNotFound(err) {
		g.recordFalsePositive()
	}
	return value, err
}

// GetWithMetadata behaves like Get but returns the entry with its metadata.
// The guarded tier must support metadata reads.
func (g *Guard) GetWithMetadata(ctx context.Context, key string) (*cache.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := cache.ValidateKey(key); err != nil {
		return nil, false, err
	}

	mt, ok := g.tier.(cache.MetadataTier)
	if !ok {
		return nil, false, errors.ErrUnsupported
	}

	if !g.mayExist(key) {
		return nil, false, cache.ErrKeyNotFound
	}

	e, stale, err := mt.GetWithMetadata(ctx, key)
	if cache.IsNotFound(err) {
		g.recordFalsePositive()
	}
	return e, stale, err
}

// Set stores a value in the guarded tier and records the key in the filter.
func (g *Guard) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	g.mu.Lock()
	g.filter.Add([]byte(key))
	g.mu.Unlock()

	return g.tier.Set(ctx, key, value, ttl)
}

// SetWithTags stores a tagged value and records the key in the filter.
// The guarded tier must support tags.
func (g *Guard) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	tt, ok := g.tier.(cache.TaggedTier)
	if !ok {
		return errors.ErrUnsupported
	}
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	g.mu.Lock()
	g.filter.Add([]byte(key))
	g.mu.Unlock()

	return tt.SetWithTags(ctx, key, value, ttl, tags)
}

// AssociateTags forwards to the guarded tier.
func (g *Guard) AssociateTags(ctx context.Context, key string, tags []string) error {
	tt, ok := g.tier.(cache.TaggedTier)
	if !ok {
		return errors.ErrUnsupported
	}
	return tt.AssociateTags(ctx, key, tags)
}

// InvalidateTag forwards to the guarded tier. Removed keys stay in the
// filter; their next read is a detectable false positive, not a wrong value.
func (g *Guard) InvalidateTag(ctx context.Context, tag string) ([]string, error) {
	tt, ok := g.tier.(cache.TaggedTier)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return tt.InvalidateTag(ctx, tag)
}

// Delete removes a value from the guarded tier. The key cannot be removed
// from the filter, so later reads of it pay the tier round trip again.
func (g *Guard) Delete(ctx context.Context, key string) error {
	return g.tier.Delete(ctx, key)
}

// DeletePattern forwards to the guarded tier.
func (g *Guard) DeletePattern(ctx context.Context, pattern string) (int, error) {
	pt, ok := g.tier.(cache.PatternTier)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	return pt.DeletePattern(ctx, pattern)
}

// Touch bumps access metadata for key on the guarded tier. Keys the filter
// has never seen are skipped without a round trip.
func (g *Guard) Touch(ctx context.Context, key string) error {
	to, ok := g.tier.(cache.Toucher)
	if !ok {
		return errors.ErrUnsupported
	}
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if !g.mayExist(key) {
		return nil
	}
	return to.Touch(ctx, key)
}

// MGet retrieves several keys at once. Keys rejected by the filter are
// treated as misses and excluded from the tier round trip entirely; with
// no surviving keys the tier is not consulted at all.
func (g *Guard) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	candidates := make([]string, 0, len(keys))
	for _, key := range keys {
		if g.mayExist(key) {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) == 0 {
		return map[string]interface{}{}, nil
	}

	result, err := g.batch.MGet(ctx, candidates)
	for _, key := range candidates {
		if _, hit := result[key]; !hit {
			g.recordFalsePositive()
		}
	}
	return result, err
}

// MSet stores several values and records every key in the filter.
func (g *Guard) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	g.mu.Lock()
	for key := range items {
		g.filter.Add([]byte(key))
	}
	g.mu.Unlock()

	return g.batch.MSet(ctx, items, ttl)
}

// MDelete forwards to the guarded tier.
func (g *Guard) MDelete(ctx context.Context, keys []string) error {
	return g.batch.MDelete(ctx, keys)
}

// Cleanup forwards to the guarded tier.
func (g *Guard) Cleanup(ctx context.Context) (int, error) {
	sw, ok := g.tier.(cache.Sweeper)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	return sw.Cleanup(ctx)
}

// Close closes the guarded tier.
func (g *Guard) Close() error {
	return g.tier.Close()
}

// Reset replaces the filter with a fresh one using the original size
// estimates and zeroes the counters. Existing keys in the guarded tier
// become invisible until they are written again or the filter is warmed.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.filter = bloom.NewWithEstimates(g.expectedItems, g.falsePositiveRate)
	g.totalQueries = 0
	g.bloomRejected = 0
	g.falsePositives = 0
}

// Warm seeds the filter with keys known to exist in the guarded tier, for
// use after a restart or Reset.
func (g *Guard) Warm(keys []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, key := range keys {
		g.filter.Add([]byte(key))
	}
}

// Stats returns counters describing how effective the filter has been.
func (g *Guard) Stats() GuardStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rejectionRate := 0.0
	falsePositiveRate := 0.0

	if g.totalQueries > 0 {
		rejectionRate = float64(g.bloomRejected) / float64(g.totalQueries)
		queried := g.totalQueries - g.bloomRejected
		if queried > 0 {
			falsePositiveRate = float64(g.falsePositives) / float64(queried)
		}
	}

	return GuardStats{
		TotalQueries:      g.totalQueries,
		BloomRejected:     g.bloomRejected,
		FalsePositives:    g.falsePositives,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    g.filter.Cap(),
	}
}

// GuardStats holds counters describing filter performance.
type GuardStats struct {
	TotalQueries      uint64
	BloomRejected     uint64
	FalsePositives    uint64
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint
}
