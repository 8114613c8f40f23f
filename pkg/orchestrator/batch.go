package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/strategy"
)

// MGet retrieves many keys in one pass. Memory tiers are consulted key by
// key; whatever is still missing is batched through each distributed tier's
// multi-get, and those hits are promoted asynchronously. The result holds
// only the keys that were found. Partial results come back together with
// the error that kept the rest out.
func (o *Orchestrator) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	if len(keys) == 0 {
		return map[string]interface{}{}, nil
	}
	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			return nil, err
		}
	}
	if o.closed.Load() {
		return nil, cache.ErrTierClosed
	}

	found := make(map[string]interface{}, len(keys))
	missing := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		o.strategy.RecordAccess(key)

		if o.negative != nil && o.negative.IsMiss(key) {
			continue
		}
		if value, ok := o.memoryGet(ctx, key); ok {
			found[key] = value
		} else {
			missing = append(missing, key)
		}
	}

	var firstErr error
	for _, h := range o.tiers {
		if len(missing) == 0 {
			break
		}
		if h.kind != cache.KindDistributed {
			continue
		}

		items, err := h.tier.MGet(ctx, missing)
		if err != nil {
			o.logger.Warn("batch get incomplete",
				zap.String("tier", h.name), zap.Int("keys", len(missing)), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", h.name, err)
			}
		}

		remaining := missing[:0]
		for _, key := range missing {
			if v, ok := items[key]; ok {
				found[key] = v
				o.promote(key, v, nil, h.index)
			} else {
				remaining = append(remaining, key)
			}
		}
		missing = remaining
	}

	if o.negative != nil && firstErr == nil {
		for _, key := range missing {
			o.negative.MarkMiss(key)
		}
	}
	if o.keys != nil {
		for key := range seen {
			_, hit := found[key]
			o.keys.RecordKeyAccess(key, hit)
		}
	}
	return found, firstErr
}

// memoryGet tries the key's memory tiers in read order.
func (o *Orchestrator) memoryGet(ctx context.Context, key string) (interface{}, bool) {
	for _, h := range o.readOrder(key, GetOptions{}) {
		if h.kind != cache.KindMemory {
			continue
		}
		value, err := h.tier.Get(ctx, key)
		if err == nil {
			return value, true
		}
		if !cache.IsNotFound(err) && !cache.IsCircuitOpen(err) {
			o.logger.Debug("memory get failed",
				zap.String("tier", h.name), zap.String("key", key), zap.Error(err))
		}
	}
	return nil, false
}

// MSet stores many entries with a shared TTL. Each key is routed by the
// strategy; distributed tiers take their group through the batch pipeline,
// memory tiers are written directly. Tier failures are logged but do not
// fail the call.
func (o *Orchestrator) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	for key, value := range items {
		if err := cache.ValidateKey(key); err != nil {
			return err
		}
		if value == nil {
			return cache.ErrInvalidValue
		}
	}
	if o.closed.Load() {
		return cache.ErrTierClosed
	}

	if o.negative != nil {
		for key := range items {
			o.negative.Forget(key)
		}
	}

	groups := make(map[string]map[string]interface{}, len(o.tiers))
	for key, value := range items {
		names := o.strategy.WriteTiers(key, cache.EstimateSize(value), strategy.WriteOptions{TTL: ttl})
		for _, name := range names {
			if _, ok := o.byName[name]; !ok {
				continue
			}
			batch := groups[name]
			if batch == nil {
				batch = make(map[string]interface{})
				groups[name] = batch
			}
			batch[key] = value
		}
	}

	var g errgroup.Group
	for name, batch := range groups {
		batch := batch
		h := o.byName[name]
		g.Go(func() error {
			return o.tierMSet(ctx, h, batch, o.tierTTL(h.index, ttl))
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("batch set incomplete", zap.Int("keys", len(items)), zap.Error(err))
	}
	return nil
}

// tierMSet writes one tier's group, batched for distributed tiers, key by
// key for memory tiers.
func (o *Orchestrator) tierMSet(ctx context.Context, h *tierHandle, batch map[string]interface{}, ttl time.Duration) error {
	if h.kind == cache.KindDistributed {
		if err := h.tier.MSet(ctx, batch, ttl); err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
		return nil
	}

	var firstErr error
	for key, value := range batch {
		if err := h.tier.Set(ctx, key, value, ttl); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", h.name, err)
		}
	}
	return firstErr
}
