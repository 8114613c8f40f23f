package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/strategy"
)

// flushTimeout bounds the tier fan-out of one delayed-invalidation flush.
const flushTimeout = 30 * time.Second

// InvalidatePattern removes every key matching the glob pattern, following
// the strategy's invalidation plan. The count covers only what the
// synchronous part removed; delayed work reports through logs and metrics.
func (o *Orchestrator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := cache.ValidatePattern(pattern); err != nil {
		return 0, err
	}
	if o.closed.Load() {
		return 0, cache.ErrTierClosed
	}

	plan := o.strategy.InvalidationPlan("", nil, pattern)
	switch plan.Mode {
	case strategy.Delayed:
		o.batcher.addPattern(pattern, plan.Delay)
		return 0, nil
	case strategy.Lazy:
		return o.deletePattern(ctx, pattern, true)
	default:
		return o.deletePattern(ctx, pattern, false)
	}
}

// deletePattern fans the pattern out to the tiers, memory-only when lazy
// invalidation leaves the distributed tiers to their TTLs.
func (o *Orchestrator) deletePattern(ctx context.Context, pattern string, memoryOnly bool) (int, error) {
	var total atomic.Int64
	var g errgroup.Group
	for _, h := range o.tiers {
		if memoryOnly && h.kind != cache.KindMemory {
			continue
		}
		h := h
		g.Go(func() error {
			n, err := h.tier.DeletePattern(ctx, pattern)
			if errors.Is(err, errors.ErrUnsupported) {
				o.logger.Debug("tier cannot delete by pattern", zap.String("tier", h.name))
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", h.name, err)
			}
			total.Add(int64(n))
			return nil
		})
	}
	err := g.Wait()
	return int(total.Load()), err
}

// InvalidateTags removes every key carrying any of the tags. The tag index
// lives on the distributed tiers; keys they report are then purged from the
// rest of the chain. Lazy plans degrade to immediate here, because skipping
// the tag owner would make the operation a no-op.
func (o *Orchestrator) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	if o.closed.Load() {
		return 0, cache.ErrTierClosed
	}

	plan := o.strategy.InvalidationPlan("", tags, "")
	if plan.Mode == strategy.Delayed {
		o.batcher.addTags(tags, plan.Delay)
		return 0, nil
	}
	return o.invalidateTags(ctx, tags)
}

func (o *Orchestrator) invalidateTags(ctx context.Context, tags []string) (int, error) {
	removed := 0
	var firstErr error
	for _, tag := range tags {
		for _, h := range o.tiers {
			keys, err := h.tier.InvalidateTag(ctx, tag)
			if errors.Is(err, errors.ErrUnsupported) {
				continue
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", h.name, err)
				}
				continue
			}
			removed += len(keys)
			o.purgeElsewhere(ctx, keys, h.index)
		}
	}
	return removed, firstErr
}

// purgeElsewhere deletes keys from every tier except the one that reported
// them, so tag invalidation reaches tiers with no tag index of their own.
func (o *Orchestrator) purgeElsewhere(ctx context.Context, keys []string, ownerIndex int) {
	for _, key := range keys {
		for _, h := range o.tiers {
			if h.index == ownerIndex {
				continue
			}
			if err := h.tier.Delete(ctx, key); err != nil && !cache.IsNotFound(err) {
				o.logger.Debug("tag purge delete failed",
					zap.String("tier", h.name), zap.String("key", key), zap.Error(err))
			}
		}
	}
}

// invalidationBatcher coalesces delayed invalidations and fans them out once
// their delay elapses. Duplicate patterns and tags fold into one execution.
type invalidationBatcher struct {
	orch *Orchestrator

	mu       sync.Mutex
	patterns map[string]struct{}
	tags     map[string]struct{}
	timer    *time.Timer
	due      time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

func newInvalidationBatcher(o *Orchestrator) *invalidationBatcher {
	return &invalidationBatcher{
		orch:     o,
		patterns: make(map[string]struct{}),
		tags:     make(map[string]struct{}),
		stopped:  make(chan struct{}),
	}
}

func (b *invalidationBatcher) addPattern(pattern string, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns[pattern] = struct{}{}
	b.scheduleLocked(delay)
}

func (b *invalidationBatcher) addTags(tags []string, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tag := range tags {
		b.tags[tag] = struct{}{}
	}
	b.scheduleLocked(delay)
}

// scheduleLocked arms the flush timer, keeping the earliest due time when
// one is already pending.
func (b *invalidationBatcher) scheduleLocked(delay time.Duration) {
	select {
	case <-b.stopped:
		return
	default:
	}

	due := time.Now().Add(delay)
	if b.timer != nil {
		if due.After(b.due) {
			return
		}
		b.timer.Stop()
	}
	b.due = due
	b.timer = time.AfterFunc(delay, b.flush)
}

func (b *invalidationBatcher) flush() {
	b.mu.Lock()
	patterns := b.patterns
	tags := b.tags
	b.patterns = make(map[string]struct{})
	b.tags = make(map[string]struct{})
	b.timer = nil
	b.mu.Unlock()

	if len(patterns) == 0 && len(tags) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	removed := 0
	for pattern := range patterns {
		n, err := b.orch.deletePattern(ctx, pattern, false)
		removed += n
		if err != nil {
			b.orch.logger.Warn("delayed pattern invalidation incomplete",
				zap.String("pattern", pattern), zap.Error(err))
		}
	}
	if len(tags) > 0 {
		list := make([]string, 0, len(tags))
		for tag := range tags {
			list = append(list, tag)
		}
		n, err := b.orch.invalidateTags(ctx, list)
		removed += n
		if err != nil {
			b.orch.logger.Warn("delayed tag invalidation incomplete", zap.Error(err))
		}
	}

	b.orch.logger.Debug("delayed invalidations flushed",
		zap.Int("patterns", len(patterns)),
		zap.Int("tags", len(tags)),
		zap.Int("removed", removed))
}

// stop flushes anything pending and refuses further scheduling. Runs before
// the tiers close.
func (b *invalidationBatcher) stop() {
	b.stopOnce.Do(func() {
		close(b.stopped)
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
		b.flush()
	})
}
