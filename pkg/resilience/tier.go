package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/logging"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Tier wraps a cache tier with circuit breaker and timeout protection. A
// backend that keeps failing is taken out of rotation until its recovery
// timeout elapses, and every operation is bounded by the configured deadline
// so one slow tier cannot stall a request.
//
// Misses, validation failures, and codec failures pass through without
// counting against the breaker; only infrastructure errors and timeouts do.
type Tier struct {
	tier    cache.Tier
	batch   cache.BatchTier
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewTier wraps the given tier with resilience protection.
func NewTier(tier cache.Tier, config Config) *Tier {
	return NewTierWithMetrics(tier, config, metrics.NoOpCollector{})
}

// NewTierWithMetrics wraps the given tier with resilience protection and a
// custom metrics collector.
func NewTierWithMetrics(tier cache.Tier, config Config, collector metrics.Collector) *Tier {
	logger := logging.Global().Named("resilience").Named(tier.Name())

	threshold := config.FailureThreshold
	if threshold == 0 {
		threshold = DefaultConfig().FailureThreshold
	}
	recovery := config.RecoveryTimeout
	if recovery == 0 {
		recovery = DefaultConfig().RecoveryTimeout
	}

	t := &Tier{
		tier:    tier,
		batch:   cache.AsBatchTier(tier),
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Info("resilient tier initialized",
		zap.String("tier", tier.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("failure_threshold", threshold),
		zap.Duration("recovery_timeout", recovery),
		zap.Uint32("half_open_max_requests", config.HalfOpenMaxRequests),
	)

	settings := gobreaker.Settings{
		Name:        tier.Name(),
		MaxRequests: config.HalfOpenMaxRequests,
		Interval:    config.Interval,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.ReadyToTrip != nil {
				return config.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("tier", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			t.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}

	t.breaker = gobreaker.NewCircuitBreaker(settings)

	return t
}

func toCircuitState(state gobreaker.State) metrics.CircuitState {
	switch state {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Name returns the name of the wrapped tier.
func (t *Tier) Name() string {
	return t.tier.Name()
}

// CircuitState returns the breaker's current state.
func (t *Tier) CircuitState() metrics.CircuitState {
	return toCircuitState(t.breaker.State())
}

// execute runs fn under the breaker with the configured deadline applied.
// Errors that don't count as failures (misses, validation, codec) are carried
// around the breaker so a cold cache cannot trip it.
func (t *Tier) execute(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var benign error
	result, err := t.breaker.Execute(func() (interface{}, error) {
		value, opErr := fn(ctx)
		if opErr != nil && !cache.CountsAsFailure(opErr) {
			benign = opErr
			return value, nil
		}
		return value, opErr
	})
	if err == nil {
		return result, benign
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		t.logger.Warn("circuit open, request rejected",
			zap.String("operation", op),
		)
		return nil, cache.ErrCircuitOpen
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		t.logger.Warn("operation timed out",
			zap.String("operation", op),
			zap.Duration("timeout", t.timeout),
		)
		return nil, cache.ErrTimeout
	}
	t.logger.Error("operation failed",
		zap.String("operation", op),
		zap.Error(err),
	)
	return nil, err
}

// record reports the operation to the collector. Gets, sets, and deletes feed
// their counters; every failure is additionally classified.
func (t *Tier) record(op string, start time.Time, err error) {
	duration := time.Since(start)
	name := t.tier.Name()
	switch op {
	case "get":
		t.metrics.RecordGet(name, err == nil, duration)
	case "set":
		t.metrics.RecordSet(name, err == nil, duration)
	case "delete":
		t.metrics.RecordDelete(name, err == nil, duration)
	}
	if err != nil && cache.CountsAsFailure(err) {
		t.metrics.RecordError(name, cache.ClassifyError(err))
	}
}

// Get retrieves a value with breaker and timeout protection.
func (t *Tier) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	result, err := t.execute(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return t.tier.Get(ctx, key)
	})
	t.record("get", start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type metaResult struct {
	entry *cache.Entry
	stale bool
}

// GetWithMetadata retrieves an entry with metadata. The wrapped tier must
// support metadata reads.
func (t *Tier) GetWithMetadata(ctx context.Context, key string) (*cache.Entry, bool, error) {
	mt, ok := t.tier.(cache.MetadataTier)
	if !ok {
		return nil, false, errors.ErrUnsupported
	}

	start := time.Now()
	result, err := t.execute(ctx, "get_with_metadata", func(ctx context.Context) (interface{}, error) {
		entry, stale, err := mt.GetWithMetadata(ctx, key)
		return metaResult{entry: entry, stale: stale}, err
	})
	t.record("get", start, err)
	if err != nil {
		return nil, false, err
	}
	mr := result.(metaResult)
	return mr.entry, mr.stale, nil
}

// Set stores a value with breaker and timeout protection.
func (t *Tier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	_, err := t.execute(ctx, "set", func(ctx context.Context) (interface{}, error) {
		return nil, t.tier.Set(ctx, key, value, ttl)
	})
	t.record("set", start, err)
	return err
}

// SetWithTags stores a value with tags. The wrapped tier must support
// tagging.
func (t *Tier) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	tt, ok := t.tier.(cache.TaggedTier)
	if !ok {
		return errors.ErrUnsupported
	}

	start := time.Now()
	_, err := t.execute(ctx, "set_with_tags", func(ctx context.Context) (interface{}, error) {
		return nil, tt.SetWithTags(ctx, key, value, ttl, tags)
	})
	t.record("set", start, err)
	return err
}

// AssociateTags adds tags to an existing key. The wrapped tier must support
// tagging.
func (t *Tier) AssociateTags(ctx context.Context, key string, tags []string) error {
	tt, ok := t.tier.(cache.TaggedTier)
	if !ok {
		return errors.ErrUnsupported
	}

	start := time.Now()
	_, err := t.execute(ctx, "associate_tags", func(ctx context.Context) (interface{}, error) {
		return nil, tt.AssociateTags(ctx, key, tags)
	})
	t.record("associate_tags", start, err)
	return err
}

// InvalidateTag removes every key carrying the tag. The wrapped tier must
// support tagging.
func (t *Tier) InvalidateTag(ctx context.Context, tag string) ([]string, error) {
	tt, ok := t.tier.(cache.TaggedTier)
	if !ok {
		return nil, errors.ErrUnsupported
	}

	start := time.Now()
	result, err := t.execute(ctx, "invalidate_tag", func(ctx context.Context) (interface{}, error) {
		return tt.InvalidateTag(ctx, tag)
	})
	t.record("invalidate_tag", start, err)
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Delete removes a value with breaker and timeout protection.
func (t *Tier) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := t.execute(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, t.tier.Delete(ctx, key)
	})
	t.record("delete", start, err)
	return err
}

// DeletePattern removes keys matching the pattern. The wrapped tier must
// support pattern deletes.
func (t *Tier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	pt, ok := t.tier.(cache.PatternTier)
	if !ok {
		return 0, errors.ErrUnsupported
	}

	start := time.Now()
	result, err := t.execute(ctx, "delete_pattern", func(ctx context.Context) (interface{}, error) {
		return pt.DeletePattern(ctx, pattern)
	})
	t.record("delete_pattern", start, err)
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Touch bumps access metadata for key. The wrapped tier must support
// touches.
func (t *Tier) Touch(ctx context.Context, key string) error {
	to, ok := t.tier.(cache.Toucher)
	if !ok {
		return errors.ErrUnsupported
	}

	start := time.Now()
	_, err := t.execute(ctx, "touch", func(ctx context.Context) (interface{}, error) {
		return nil, to.Touch(ctx, key)
	})
	t.record("touch", start, err)
	return err
}

// Cleanup sweeps the wrapped tier. The wrapped tier must support sweeping.
func (t *Tier) Cleanup(ctx context.Context) (int, error) {
	sw, ok := t.tier.(cache.Sweeper)
	if !ok {
		return 0, errors.ErrUnsupported
	}

	start := time.Now()
	result, err := t.execute(ctx, "cleanup", func(ctx context.Context) (interface{}, error) {
		return sw.Cleanup(ctx)
	})
	t.record("cleanup", start, err)
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

type batchResult struct {
	items map[string]interface{}
	err   error
}

// MGet retrieves multiple keys. A tier without native batch support rides a
// bounded per-key adapter. A partial failure that still produced results
// does not count against the breaker; the results and the error are both
// returned.
func (t *Tier) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	start := time.Now()
	result, err := t.execute(ctx, "mget", func(ctx context.Context) (interface{}, error) {
		found, mgetErr := t.batch.MGet(ctx, keys)
		if mgetErr != nil && len(found) > 0 {
			return batchResult{items: found, err: mgetErr}, nil
		}
		return batchResult{items: found}, mgetErr
	})
	t.record("mget", start, err)
	if err != nil {
		return nil, err
	}
	br := result.(batchResult)
	if br.err != nil {
		t.record("mget", start, br.err)
	}
	return br.items, br.err
}

// MSet stores multiple items, per key under bounded concurrency when the
// tier has no native batch support.
func (t *Tier) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	start := time.Now()
	_, err := t.execute(ctx, "mset", func(ctx context.Context) (interface{}, error) {
		return nil, t.batch.MSet(ctx, items, ttl)
	})
	t.record("mset", start, err)
	return err
}

// MDelete removes multiple keys, per key under bounded concurrency when the
// tier has no native batch support.
func (t *Tier) MDelete(ctx context.Context, keys []string) error {
	start := time.Now()
	_, err := t.execute(ctx, "mdelete", func(ctx context.Context) (interface{}, error) {
		return nil, t.batch.MDelete(ctx, keys)
	})
	t.record("mdelete", start, err)
	return err
}

// Close closes the wrapped tier.
func (t *Tier) Close() error {
	return t.tier.Close()
}
