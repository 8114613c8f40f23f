package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchTier extends Tier with batch operations. The distributed tier
// implements these natively (pipelined, partition-grouped); other tiers can
// be adapted with AsBatchTier.
type BatchTier interface {
	Tier

	// MGet retrieves multiple keys at once. The result contains only the
	// keys that were found; missing keys are simply absent.
	MGet(ctx context.Context, keys []string) (map[string]interface{}, error)

	// MSet stores multiple key-value pairs at once with a shared TTL.
	MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error

	// MDelete removes multiple keys at once.
	MDelete(ctx context.Context, keys []string) error
}

// batchConcurrency bounds the fan-out of the fallback adapter.
const batchConcurrency = 8

// AsBatchTier returns t unchanged when it already supports batch operations,
// or wraps it in a per-key fallback adapter when it does not.
func AsBatchTier(t Tier) BatchTier {
	if bt, ok := t.(BatchTier); ok {
		return bt
	}
	return NewBatchAdapter(t)
}

// BatchAdapter implements BatchTier over any Tier by fanning out per-key
// calls with bounded concurrency.
type BatchAdapter struct {
	tier Tier
}

// NewBatchAdapter creates a new batch adapter.
func NewBatchAdapter(tier Tier) *BatchAdapter {
	return &BatchAdapter{tier: tier}
}

// Name returns the name of the underlying tier.
func (ba *BatchAdapter) Name() string {
	return ba.tier.Name()
}

// Get retrieves a single value.
func (ba *BatchAdapter) Get(ctx context.Context, key string) (interface{}, error) {
	return ba.tier.Get(ctx, key)
}

// Set stores a single value.
func (ba *BatchAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return ba.tier.Set(ctx, key, value, ttl)
}

// Delete removes a single value.
func (ba *BatchAdapter) Delete(ctx context.Context, key string) error {
	return ba.tier.Delete(ctx, key)
}

// Close closes the underlying tier.
func (ba *BatchAdapter) Close() error {
	return ba.tier.Close()
}

// MGet retrieves multiple keys with bounded parallelism. Per-key misses and
// decode failures are skipped; the map holds whatever was found.
func (ba *BatchAdapter) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	results := make(map[string]interface{}, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, key := range keys {
		k := key
		g.Go(func() error {
			value, err := ba.tier.Get(gctx, k)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[k] = value
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}

// MSet stores multiple key-value pairs with bounded parallelism. Per-key
// failures are collected and joined; successful writes stand.
func (ba *BatchAdapter) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for key, value := range items {
		k, v := key, value
		g.Go(func() error {
			if err := ba.tier.Set(gctx, k, v, ttl); err != nil {
				mu.Lock()
				errs = append(errs, WrapError(err, ba.tier.Name(), "mset "+k))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(errs...)
}

// MDelete removes multiple keys with bounded parallelism.
func (ba *BatchAdapter) MDelete(ctx context.Context, keys []string) error {
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, key := range keys {
		k := key
		g.Go(func() error {
			if err := ba.tier.Delete(gctx, k); err != nil {
				mu.Lock()
				errs = append(errs, WrapError(err, ba.tier.Name(), "mdelete "+k))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(errs...)
}
