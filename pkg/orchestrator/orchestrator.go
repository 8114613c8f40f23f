// Package orchestrator composes cache tiers into one logical cache. Reads
// walk the tiers fastest-first and promote deep hits upward; writes fan out
// to the tiers the placement strategy picks; invalidations follow the
// strategy's plan. Every tier runs behind its own circuit breaker, so a sick
// backend degrades that tier instead of the cache.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/logging"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/resilience"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/strategy"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/writer"
)

// Default per-operation timeouts applied when a TierSpec leaves its
// resilience timeout unset. The first tier is expected to be memory-fast.
const (
	defaultFastTimeout = 100 * time.Millisecond
	defaultSlowTimeout = 1 * time.Second
)

// TierSpec declares one tier of the chain. Order matters: specs are given
// fastest-first, and that order defines promotion direction.
type TierSpec struct {
	// Tier is the tier itself, unwrapped. The orchestrator adds the
	// resilience wrapper and async writer.
	Tier cache.Tier

	// Kind tells the routing strategy whether this tier is memory or
	// distributed.
	Kind cache.Kind

	// Config carries the tier's TTL policy and enablement. A zero Config
	// enables the tier with library defaults.
	Config cache.TierConfig

	// Resilience tunes the tier's circuit breaker and timeout. A zero
	// Timeout takes a position default: 100ms for the first tier, 1s for
	// the rest.
	Resilience resilience.Config
}

// Config configures an Orchestrator.
type Config struct {
	// Strategy decides tier routing. Nil builds one from the tier specs,
	// weighted by chain position.
	Strategy *strategy.Strategy

	// TTLPolicy derives per-tier TTLs. Default: UniformTTL.
	TTLPolicy TTLPolicy

	// Writer configures the per-tier async write pools used for promotion,
	// refresh, and warming.
	Writer writer.AsyncWriterConfig

	// NegativeTTL remembers full misses for this long, shielding the slow
	// tiers from repeated lookups of absent keys. Zero disables the memo.
	NegativeTTL time.Duration

	// Metrics receives per-operation measurements. Default: NoOpCollector.
	Metrics metrics.Collector

	// Logger is the parent logger. Default: the process-global logger.
	Logger *logging.Logger
}

// GetOptions tunes a single read.
type GetOptions struct {
	// StaleWhileRevalidate serves an almost-expired entry immediately and
	// schedules a background refresh instead of passing the entry over.
	StaleWhileRevalidate bool

	// TierOverride restricts the read to the named tiers, in this order.
	TierOverride []string

	// SkipPromotion leaves the faster tiers alone on a deep hit.
	SkipPromotion bool

	// SizeHint and TTLHint feed the strategy's tier conditions. Zero means
	// unknown.
	SizeHint int64
	TTLHint  time.Duration
}

// SetOptions tunes a single write.
type SetOptions struct {
	// TTL requests an entry lifetime. Zero takes each tier's default;
	// cache.NoExpiration stores without expiry.
	TTL time.Duration

	// Tags associate the entry with invalidation tags on tiers that index
	// them.
	Tags []string

	// TierOverride replaces the strategy's write routing entirely.
	TierOverride []string

	// Consistency overrides the strategy's configured write fan-out for
	// this call.
	Consistency strategy.Consistency
}

// tierHandle is one active tier with its wrapping and chain position.
type tierHandle struct {
	index  int
	name   string
	kind   cache.Kind
	config cache.TierConfig
	tier   *resilience.Tier
	writer *writer.AsyncWriter
}

// Orchestrator is the multi-tier cache. Safe for concurrent use.
type Orchestrator struct {
	tiers    []*tierHandle
	byName   map[string]*tierHandle
	strategy *strategy.Strategy
	ttl      TTLPolicy
	metrics  metrics.Collector
	keys     metrics.KeyTracker
	negative *cache.NegativeCache
	batcher  *invalidationBatcher
	logger   *logging.Logger

	sf     singleflight.Group
	closed atomic.Bool
}

// New builds an orchestrator over the given tier specs, fastest-first. Every
// tier is wrapped with resilience protection and given an async writer.
func New(config Config, specs ...TierSpec) (*Orchestrator, error) {
	if len(specs) == 0 {
		return nil, errors.New("orchestrator: at least one tier required")
	}

	if config.TTLPolicy == nil {
		config.TTLPolicy = UniformTTL{}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.Named("orchestrator")

	o := &Orchestrator{
		byName:  make(map[string]*tierHandle, len(specs)),
		ttl:     config.TTLPolicy,
		metrics: config.Metrics,
		logger:  logger,
	}
	if kt, ok := config.Metrics.(metrics.KeyTracker); ok {
		o.keys = kt
	}

	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Tier == nil {
			return nil, errors.New("orchestrator: nil tier in spec")
		}
		name := spec.Tier.Name()
		if name == "" {
			return nil, errors.New("orchestrator: tier with empty name")
		}
		if known[name] {
			return nil, fmt.Errorf("orchestrator: duplicate tier name %q", name)
		}
		known[name] = true
		if spec.Kind != cache.KindMemory && spec.Kind != cache.KindDistributed {
			return nil, fmt.Errorf("orchestrator: tier %q has unknown kind %q", name, spec.Kind)
		}

		cfg := spec.Config
		if cfg == (cache.TierConfig{}) {
			cfg.Enabled = true
		}
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Name != name {
			return nil, fmt.Errorf("orchestrator: tier config named %q wired to tier %q", cfg.Name, name)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("orchestrator: tier %q: %w", name, err)
		}
		if !cfg.Enabled {
			logger.Info("tier disabled, skipping", zap.String("tier", name))
			continue
		}

		rc := spec.Resilience
		if rc.Timeout == 0 {
			if len(o.tiers) == 0 {
				rc.Timeout = defaultFastTimeout
			} else {
				rc.Timeout = defaultSlowTimeout
			}
		}

		wrapped := resilience.NewTierWithMetrics(spec.Tier, rc, config.Metrics)
		h := &tierHandle{
			index:  len(o.tiers),
			name:   name,
			kind:   spec.Kind,
			config: cfg,
			tier:   wrapped,
			writer: writer.NewAsyncWriterWithMetrics(wrapped, config.Writer, config.Metrics),
		}
		o.tiers = append(o.tiers, h)
		o.byName[name] = h
	}
	if len(o.tiers) == 0 {
		return nil, errors.New("orchestrator: all tiers disabled")
	}

	strat := config.Strategy
	if strat == nil {
		weights := make([]strategy.TierWeight, len(o.tiers))
		for i, h := range o.tiers {
			weights[i] = strategy.TierWeight{
				Name:   h.name,
				Kind:   h.kind,
				Weight: (len(o.tiers) - i) * 10,
			}
		}
		var err error
		strat, err = strategy.New(strategy.Config{Tiers: weights})
		if err != nil {
			return nil, err
		}
	} else {
		for _, tw := range strat.Config().Tiers {
			if !known[tw.Name] {
				return nil, fmt.Errorf("orchestrator: strategy routes to unknown tier %q", tw.Name)
			}
		}
	}
	o.strategy = strat

	if config.NegativeTTL > 0 {
		o.negative = cache.NewNegativeCache(config.NegativeTTL)
	}
	o.batcher = newInvalidationBatcher(o)

	logger.Info("orchestrator initialized",
		zap.Int("tiers", len(o.tiers)),
		zap.String("chain", o.String()))
	return o, nil
}

// getResult is what one traversal produced; err carries only context errors.
type getResult struct {
	value interface{}
	hit   bool
	tier  int
	err   error
}

// staleHit remembers an almost-expired entry found during traversal.
type staleHit struct {
	value  interface{}
	entry  *cache.Entry
	handle *tierHandle
}

// Get retrieves the value for key, trying tiers fastest-first. A miss returns
// (nil, nil): stored values are never nil, so a nil result always means
// absent. Concurrent gets for the same key are collapsed into one traversal.
func (o *Orchestrator) Get(ctx context.Context, key string) (interface{}, error) {
	return o.GetWithOptions(ctx, key, GetOptions{})
}

// GetWithOptions is Get with per-call tuning. When concurrent gets collapse,
// the first caller's options drive the shared traversal.
func (o *Orchestrator) GetWithOptions(ctx context.Context, key string, opts GetOptions) (interface{}, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}
	if o.closed.Load() {
		return nil, cache.ErrTierClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	start := time.Now()
	o.strategy.RecordAccess(key)

	if o.negative != nil && o.negative.IsMiss(key) {
		o.recordGet(key, false, -1, time.Since(start))
		return nil, nil
	}

	result, _, _ := o.sf.Do(key, func() (interface{}, error) {
		return o.traverse(ctx, key, opts), nil
	})
	r := result.(getResult)
	if r.err != nil {
		return nil, r.err
	}

	o.recordGet(key, r.hit, r.tier, time.Since(start))
	return r.value, nil
}

// traverse walks the tiers in strategy order until a fresh hit.
func (o *Orchestrator) traverse(ctx context.Context, key string, opts GetOptions) getResult {
	var stale *staleHit
	sawFailure := false

	for _, h := range o.readOrder(key, opts) {
		select {
		case <-ctx.Done():
			return getResult{err: ctx.Err()}
		default:
		}

		value, entry, isStale, err := o.tierGet(ctx, h, key, opts.StaleWhileRevalidate)
		if err != nil {
			switch {
			case cache.IsNotFound(err):
			case cache.IsCircuitOpen(err):
				sawFailure = true
				o.logger.Debug("tier skipped, circuit open",
					zap.String("tier", h.name), zap.String("key", key))
			case cache.IsSerializationError(err) || cache.IsCompressionError(err):
				o.logger.Warn("undecodable entry treated as miss",
					zap.String("tier", h.name), zap.String("key", key), zap.Error(err))
			default:
				sawFailure = true
				o.logger.Warn("tier get failed",
					zap.String("tier", h.name), zap.String("key", key), zap.Error(err))
			}
			continue
		}

		if isStale && opts.StaleWhileRevalidate {
			// Remember the oldest usable copy and keep looking for a
			// fresher one deeper in the chain.
			if stale == nil {
				stale = &staleHit{value: value, entry: entry, handle: h}
			}
			continue
		}

		if h.index > 0 && !opts.SkipPromotion {
			o.promote(key, value, entry, h.index)
		}
		return getResult{value: value, hit: true, tier: h.index}
	}

	if stale != nil {
		o.refresh(key, stale)
		return getResult{value: stale.value, hit: true, tier: stale.handle.index}
	}

	// Remember the miss only when every tier really answered; an outage is
	// not evidence of absence.
	if o.negative != nil && !sawFailure {
		o.negative.MarkMiss(key)
	}
	return getResult{tier: -1}
}

// tierGet reads one tier, with metadata when staleness matters and the tier
// can report it.
func (o *Orchestrator) tierGet(ctx context.Context, h *tierHandle, key string, wantMeta bool) (interface{}, *cache.Entry, bool, error) {
	if wantMeta {
		entry, isStale, err := h.tier.GetWithMetadata(ctx, key)
		if err == nil {
			return entry.Value, entry, isStale, nil
		}
		if !errors.Is(err, errors.ErrUnsupported) {
			return nil, nil, false, err
		}
	}
	value, err := h.tier.Get(ctx, key)
	return value, nil, false, err
}

// promote schedules writes of a deep hit into every faster tier. The entry's
// remaining TTL is carried when known so a copy never outlives its source.
func (o *Orchestrator) promote(key string, value interface{}, entry *cache.Entry, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		h := o.tiers[i]

		ttl := o.tierTTL(i, 0)
		if entry != nil {
			if rem := entry.Metadata.Remaining(time.Now()); rem > 0 {
				ttl = o.tierTTL(i, rem)
			}
		}

		var err error
		if entry != nil && len(entry.Metadata.Tags) > 0 {
			err = h.writer.WriteWithTags(context.Background(), key, value, ttl, entry.Metadata.Tags)
		} else {
			err = h.writer.Write(context.Background(), key, value, ttl)
		}
		if err != nil {
			o.logger.Debug("promotion dropped",
				zap.String("tier", h.name), zap.String("key", key), zap.Error(err))
		}
	}
}

// refresh handles a stale hit that no fresher tier could improve on: nudge
// the owning tier's metadata and repopulate the faster tiers with the stale
// value. The caller is already on its way out with that value.
func (o *Orchestrator) refresh(key string, stale *staleHit) {
	err := stale.handle.writer.Touch(context.Background(), key)
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		o.logger.Debug("stale refresh touch dropped",
			zap.String("tier", stale.handle.name), zap.String("key", key), zap.Error(err))
	}
	o.promote(key, stale.value, stale.entry, stale.handle.index)
}

// Set stores value under key on the tiers the strategy picks, with each
// tier's default TTL.
func (o *Orchestrator) Set(ctx context.Context, key string, value interface{}) error {
	return o.SetWithOptions(ctx, key, value, SetOptions{})
}

// SetWithOptions is Set with per-call tuning. Tier failures are logged and
// counted but do not fail the call; the write lands wherever it can.
func (o *Orchestrator) SetWithOptions(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if value == nil {
		return cache.ErrInvalidValue
	}
	if o.closed.Load() {
		return cache.ErrTierClosed
	}

	if o.negative != nil {
		o.negative.Forget(key)
	}

	size := cache.EstimateSize(value)
	wopts := strategy.WriteOptions{TTL: opts.TTL, TierOverride: opts.TierOverride}
	var names []string
	if opts.Consistency != "" {
		names = o.strategy.WriteTiersWith(opts.Consistency, key, size, wopts)
	} else {
		names = o.strategy.WriteTiers(key, size, wopts)
	}

	var g errgroup.Group
	for _, name := range names {
		h, ok := o.byName[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			ttl := o.tierTTL(h.index, opts.TTL)
			if err := o.tierSet(ctx, h, key, value, ttl, opts.Tags); err != nil {
				return fmt.Errorf("%s: %w", h.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("set incomplete", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// tierSet writes one tier, riding the tagged path when tags are present and
// the tier indexes them.
func (o *Orchestrator) tierSet(ctx context.Context, h *tierHandle, key string, value interface{}, ttl time.Duration, tags []string) error {
	if len(tags) > 0 {
		err := h.tier.SetWithTags(ctx, key, value, ttl, tags)
		if !errors.Is(err, errors.ErrUnsupported) {
			return err
		}
	}
	return h.tier.Set(ctx, key, value, ttl)
}

// Delete removes key from every tier. All tiers are attempted; the first
// failure is returned.
func (o *Orchestrator) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if o.closed.Load() {
		return cache.ErrTierClosed
	}

	if o.negative != nil {
		o.negative.Forget(key)
	}

	var g errgroup.Group
	for _, h := range o.tiers {
		h := h
		g.Go(func() error {
			if err := h.tier.Delete(ctx, key); err != nil && !cache.IsNotFound(err) {
				return fmt.Errorf("%s: %w", h.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Sweep runs expired-entry cleanup on every tier that supports it and
// returns the total removed.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	total := 0
	var firstErr error
	for _, h := range o.tiers {
		n, err := h.tier.Cleanup(ctx)
		if errors.Is(err, errors.ErrUnsupported) {
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", h.name, err)
			}
			continue
		}
		total += n
	}
	return total, firstErr
}

// Close stops background work and closes the tiers in reverse order, slowest
// last-opened first. Pending delayed invalidations are flushed, writer queues
// drained.
func (o *Orchestrator) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	o.batcher.stop()
	if o.negative != nil {
		o.negative.Close()
	}

	var lastErr error
	for _, h := range o.tiers {
		if err := h.writer.Close(); err != nil {
			lastErr = err
		}
	}
	for i := len(o.tiers) - 1; i >= 0; i-- {
		if err := o.tiers[i].tier.Close(); err != nil {
			lastErr = err
		}
	}

	o.logger.Info("orchestrator closed")
	return lastErr
}

// Len returns the number of active tiers.
func (o *Orchestrator) Len() int {
	return len(o.tiers)
}

// TierNames returns the active tier names in chain order, fastest first.
func (o *Orchestrator) TierNames() []string {
	names := make([]string, len(o.tiers))
	for i, h := range o.tiers {
		names[i] = h.name
	}
	return names
}

// String renders the tier chain.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator(%d tiers): %s",
		len(o.tiers), strings.Join(o.TierNames(), " -> "))
}

// readOrder resolves the strategy's tier order (or the caller's override) to
// live handles, dropping names that match no active tier.
func (o *Orchestrator) readOrder(key string, opts GetOptions) []*tierHandle {
	names := opts.TierOverride
	if len(names) == 0 {
		names = o.strategy.ReadOrder(key, strategy.ReadOptions{
			SizeHint: opts.SizeHint,
			TTLHint:  opts.TTLHint,
		})
	}
	order := make([]*tierHandle, 0, len(names))
	for _, name := range names {
		if h, ok := o.byName[name]; ok {
			order = append(order, h)
		}
	}
	return order
}

// tierTTL derives the concrete TTL for a tier: the tier's own config policy
// first, then the chain-position policy on top.
func (o *Orchestrator) tierTTL(index int, requested time.Duration) time.Duration {
	base := o.tiers[index].config.EffectiveTTL(requested)
	return o.ttl.TierTTL(index, len(o.tiers), base)
}

func (o *Orchestrator) recordGet(key string, hit bool, tierIndex int, d time.Duration) {
	o.metrics.RecordOrchestratorGet(hit, tierIndex, d)
	if o.keys != nil {
		o.keys.RecordKeyAccess(key, hit)
	}
}
