package writer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/logging"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"

	"go.uber.org/zap"
)

// AsyncWriter applies cache writes through a bounded queue and a worker pool
// so promotions, delayed invalidations, and touch refreshes never block the
// read path. When the queue is full, writes are dropped after MaxWaitTime
// rather than stalling the caller.
//
// Operations for the same key may be applied out of enqueue order when more
// than one worker is configured; callers that need strict ordering use a
// single worker.
type AsyncWriter struct {
	tier       cache.Tier
	queue      chan writeOp
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncWriterConfig
	metrics    metrics.Collector
	logger     *logging.Logger
	tierName   string

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	setWrites     int64
	deleteWrites  int64
	touchWrites   int64

	// Metrics ticker for periodic queue depth reporting
	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

type opKind int

const (
	opSet opKind = iota
	opDelete
	opTouch
)

func (k opKind) String() string {
	switch k {
	case opDelete:
		return "delete"
	case opTouch:
		return "touch"
	default:
		return "set"
	}
}

// writeOp is a pending queue entry.
type writeOp struct {
	kind  opKind
	key   string
	value interface{}
	ttl   time.Duration
	tags  []string
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size. Default: 1000
	QueueSize int

	// Workers is the number of concurrent workers. Default: 2
	Workers int

	// MaxWaitTime is the longest an enqueue waits when the queue is full
	// before the write is dropped. Negative drops immediately without
	// waiting. Default: 10ms
	MaxWaitTime time.Duration
}

// NewAsyncWriter creates an async writer for the given tier. The writer
// starts processing immediately and must be closed with Close.
func NewAsyncWriter(tier cache.Tier, config AsyncWriterConfig) *AsyncWriter {
	return NewAsyncWriterWithMetrics(tier, config, metrics.NoOpCollector{})
}

// NewAsyncWriterWithMetrics creates an async writer with a custom metrics
// collector.
func NewAsyncWriterWithMetrics(tier cache.Tier, config AsyncWriterConfig, collector metrics.Collector) *AsyncWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		tier:          tier,
		queue:         make(chan writeOp, config.QueueSize),
		workers:       config.Workers,
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		logger:        logging.Global().Named("writer").Named(tier.Name()),
		tierName:      tier.Name(),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	w.logger.Info("async writer started",
		zap.Int("queue_size", config.QueueSize),
		zap.Int("workers", config.Workers),
		zap.Duration("max_wait_time", config.MaxWaitTime),
	)

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	go w.reportMetrics()

	return w
}

// Write enqueues a set. If the queue stays full past MaxWaitTime the write
// is dropped and ErrQueueFull returned.
func (w *AsyncWriter) Write(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return w.enqueue(ctx, writeOp{kind: opSet, key: key, value: value, ttl: ttl})
}

// WriteWithTags enqueues a set carrying invalidation tags. If the tier does
// not index tags the write degrades to a plain set; the value is still
// cached.
func (w *AsyncWriter) WriteWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	return w.enqueue(ctx, writeOp{kind: opSet, key: key, value: value, ttl: ttl, tags: tags})
}

// Delete enqueues a delete.
func (w *AsyncWriter) Delete(ctx context.Context, key string) error {
	return w.enqueue(ctx, writeOp{kind: opDelete, key: key})
}

// Touch enqueues an access-metadata refresh. The tier must support touches.
func (w *AsyncWriter) Touch(ctx context.Context, key string) error {
	if _, ok := w.tier.(cache.Toucher); !ok {
		return errors.ErrUnsupported
	}
	return w.enqueue(ctx, writeOp{kind: opTouch, key: key})
}

func (w *AsyncWriter) enqueue(ctx context.Context, op writeOp) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if w.config.MaxWaitTime < 0 {
		select {
		case w.queue <- op:
			w.countEnqueued(op.kind)
			return nil
		default:
			return w.drop(op)
		}
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case w.queue <- op:
		w.countEnqueued(op.kind)
		return nil
	case <-timer.C:
		return w.drop(op)
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWriterClosed
	}
}

func (w *AsyncWriter) countEnqueued(kind opKind) {
	atomic.AddInt64(&w.totalWrites, 1)
	switch kind {
	case opDelete:
		atomic.AddInt64(&w.deleteWrites, 1)
	case opTouch:
		atomic.AddInt64(&w.touchWrites, 1)
	default:
		atomic.AddInt64(&w.setWrites, 1)
	}
}

func (w *AsyncWriter) drop(op writeOp) error {
	atomic.AddInt64(&w.droppedWrites, 1)
	w.metrics.RecordWriteDropped(w.tierName)
	w.logger.Warn("write dropped, queue full",
		zap.String("op", op.kind.String()),
		zap.String("key", op.key),
	)
	return ErrQueueFull
}

// worker applies queued operations until the writer is closed, then drains
// whatever is left in the queue.
func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-w.ctx.Done():
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	start := time.Now()
	err := w.applyOp(op)
	duration := time.Since(start)

	w.metrics.RecordAsyncWrite(w.tierName, err == nil, duration)

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Warn("async write failed",
			zap.String("op", op.kind.String()),
			zap.String("key", op.key),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
}

func (w *AsyncWriter) applyOp(op writeOp) error {
	ctx := context.Background()
	switch op.kind {
	case opDelete:
		return w.tier.Delete(ctx, op.key)
	case opTouch:
		err := w.tier.(cache.Toucher).Touch(ctx, op.key)
		if cache.IsNotFound(err) {
			// The entry expired or was deleted before the touch ran.
			return nil
		}
		return err
	default:
		if len(op.tags) > 0 {
			if tt, ok := w.tier.(cache.TaggedTier); ok {
				return tt.SetWithTags(ctx, op.key, op.value, op.ttl, op.tags)
			}
		}
		return w.tier.Set(ctx, op.key, op.value, op.ttl)
	}
}

// Flush waits until the queue is empty or the context expires. A worker may
// still be applying the last dequeued operations when Flush returns.
func (w *AsyncWriter) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(w.queue) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrFlushTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting new writes, drains the queue, and waits for the
// workers to finish.
func (w *AsyncWriter) Close() error {
	close(w.metricsStop)
	w.metricsTicker.Stop()

	w.cancelFunc()
	w.wg.Wait()

	w.metrics.RecordQueueDepth(w.tierName, 0)
	w.logger.Info("async writer closed",
		zap.Int64("total_writes", atomic.LoadInt64(&w.totalWrites)),
		zap.Int64("dropped_writes", atomic.LoadInt64(&w.droppedWrites)),
		zap.Int64("failed_writes", atomic.LoadInt64(&w.failedWrites)),
	)

	return nil
}

// reportMetrics periodically reports queue depth.
func (w *AsyncWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.tierName, len(w.queue))
		case <-w.metricsStop:
			return
		}
	}
}

// Stats returns a point-in-time view of writer activity.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:    len(w.queue),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
		SetWrites:     atomic.LoadInt64(&w.setWrites),
		DeleteWrites:  atomic.LoadInt64(&w.deleteWrites),
		TouchWrites:   atomic.LoadInt64(&w.touchWrites),
	}
}
