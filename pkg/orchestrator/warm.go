package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/strategy"
)

// Warm repopulates the memory tiers with the hottest tracked keys, reading
// each from the first distributed tier and scheduling writes through the
// writer pools. Placement tuning can veto keys that turned cold or grew too
// large. Returns how many keys were scheduled.
//
// Warming needs a key-tracking collector (such as *metrics.Registry) and at
// least one distributed tier to read from; otherwise it is a no-op.
func (o *Orchestrator) Warm(ctx context.Context, n int) (int, error) {
	if o.keys == nil || n <= 0 {
		return 0, nil
	}
	if o.closed.Load() {
		return 0, cache.ErrTierClosed
	}

	var source *tierHandle
	for _, h := range o.tiers {
		if h.kind == cache.KindDistributed {
			source = h
			break
		}
	}
	if source == nil {
		return 0, nil
	}

	warmed := 0
	for _, ks := range o.keys.TopKeys(n) {
		select {
		case <-ctx.Done():
			return warmed, ctx.Err()
		default:
		}

		value, err := source.tier.Get(ctx, ks.Key)
		if err != nil {
			if !cache.IsNotFound(err) {
				o.logger.Debug("warm read failed",
					zap.String("key", ks.Key), zap.Error(err))
			}
			continue
		}

		// Spread the tracked request count over the registry's demand
		// window to approximate a rate; idle time stands in for age.
		rec := o.strategy.OptimizePlacement(strategy.AccessPattern{
			ReadsPerSec:  float64(ks.Requests) / float64(metrics.DefaultWindowSeconds),
			AvgSizeBytes: cache.EstimateSize(value),
			Age:          time.Since(ks.LastAccess),
		})

		scheduled := false
		for _, name := range rec.Tiers {
			h, ok := o.byName[name]
			if !ok || h.kind != cache.KindMemory {
				continue
			}
			if err := h.writer.Write(ctx, ks.Key, value, o.tierTTL(h.index, rec.TTL)); err == nil {
				scheduled = true
			}
		}
		if scheduled {
			warmed++
		}
	}

	o.logger.Debug("warming pass complete", zap.Int("requested", n), zap.Int("warmed", warmed))
	return warmed, nil
}
