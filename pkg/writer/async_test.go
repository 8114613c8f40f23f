package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache/mock"
)

// plainTier implements only the core Tier interface, recording sets so tests
// can observe tag degradation and capability checks.
type plainTier struct {
	mu   sync.Mutex
	sets map[string]interface{}
}

func newPlainTier() *plainTier {
	return &plainTier{sets: make(map[string]interface{})}
}

func (p *plainTier) Get(ctx context.Context, key string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.sets[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return v, nil
}

func (p *plainTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[key] = value
	return nil
}

func (p *plainTier) Delete(ctx context.Context, key string) error { return nil }
func (p *plainTier) Name() string                                 { return "plain" }
func (p *plainTier) Close() error                                 { return nil }

func TestNewAsyncWriter(t *testing.T) {
	tier := mock.NewMockTier("redis")
	config := AsyncWriterConfig{
		QueueSize:   100,
		Workers:     4,
		MaxWaitTime: 5 * time.Millisecond,
	}

	w := NewAsyncWriter(tier, config)
	defer w.Close()

	if w.workers != 4 {
		t.Errorf("workers = %d, want 4", w.workers)
	}
	if cap(w.queue) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(w.queue))
	}
}

func TestNewAsyncWriterDefaults(t *testing.T) {
	w := NewAsyncWriter(mock.NewMockTier("redis"), AsyncWriterConfig{})
	defer w.Close()

	if cap(w.queue) != 1000 {
		t.Errorf("default queue capacity = %d, want 1000", cap(w.queue))
	}
	if w.workers != 2 {
		t.Errorf("default workers = %d, want 2", w.workers)
	}
	if w.config.MaxWaitTime != 10*time.Millisecond {
		t.Errorf("default MaxWaitTime = %v, want 10ms", w.config.MaxWaitTime)
	}

	// A negative MaxWaitTime means drop immediately and is preserved.
	w2 := NewAsyncWriter(mock.NewMockTier("redis"), AsyncWriterConfig{MaxWaitTime: -1})
	defer w2.Close()
	if w2.config.MaxWaitTime >= 0 {
		t.Errorf("negative MaxWaitTime not preserved: %v", w2.config.MaxWaitTime)
	}
}

func TestWrite(t *testing.T) {
	var mu sync.Mutex
	writes := make(map[string]interface{})

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		writes[key] = value
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	if err := w.Write(context.Background(), "key1", "value1", time.Minute); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writes["key1"] != "value1" {
		t.Errorf("written value = %v, want value1", writes["key1"])
	}

	stats := w.Stats()
	if stats.TotalWrites != 1 || stats.SetWrites != 1 {
		t.Errorf("TotalWrites/SetWrites = %d/%d, want 1/1", stats.TotalWrites, stats.SetWrites)
	}
}

func TestConcurrentWrites(t *testing.T) {
	var mu sync.Mutex
	writes := make(map[string]interface{})

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		writes[key] = value
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 100, Workers: 4})
	defer w.Close()

	var wg sync.WaitGroup
	numWrites := 50
	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key%d", i)
			if err := w.Write(context.Background(), key, i, time.Minute); err != nil {
				t.Errorf("Write %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(writes) != numWrites {
		t.Errorf("writes = %d, want %d", len(writes), numWrites)
	}
	if stats := w.Stats(); stats.TotalWrites != int64(numWrites) {
		t.Errorf("TotalWrites = %d, want %d", stats.TotalWrites, numWrites)
	}
}

func TestBackpressure(t *testing.T) {
	firstWrite := make(chan struct{})
	var writeCount int
	var mu sync.Mutex

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		mu.Lock()
		writeCount++
		isFirst := writeCount == 1
		mu.Unlock()
		if isFirst {
			<-firstWrite
		}
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{
		QueueSize:   5,
		Workers:     1,
		MaxWaitTime: 10 * time.Millisecond,
	})
	defer func() {
		close(firstWrite)
		w.Close()
	}()

	// First write blocks the worker, the next five fill the queue.
	for i := 0; i < 6; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), i, time.Minute); err != nil {
			t.Fatalf("Write %d failed unexpectedly: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}

	err := w.Write(context.Background(), "key-extra", "value", time.Minute)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Write with full queue error = %v, want ErrQueueFull", err)
	}

	stats := w.Stats()
	if stats.DroppedWrites != 1 {
		t.Errorf("DroppedWrites = %d, want 1", stats.DroppedWrites)
	}
	if stats.TotalWrites != 6 {
		t.Errorf("TotalWrites = %d, want 6", stats.TotalWrites)
	}
}

func TestDropImmediately(t *testing.T) {
	firstWrite := make(chan struct{})
	var once sync.Once

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		once.Do(func() { <-firstWrite })
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{
		QueueSize:   2,
		Workers:     1,
		MaxWaitTime: -1,
	})
	defer func() {
		close(firstWrite)
		w.Close()
	}()

	for i := 0; i < 3; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), i, time.Minute); err != nil {
			t.Fatalf("Write %d failed unexpectedly: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	err := w.Write(context.Background(), "key-extra", "value", time.Minute)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Write error = %v, want ErrQueueFull", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("immediate drop took %v", elapsed)
	}
}

func TestContextCancellation(t *testing.T) {
	w := NewAsyncWriter(mock.NewMockTier("redis"), AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Write(ctx, "key", "value", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Write error = %v, want context.Canceled", err)
	}
}

func TestErrorHandling(t *testing.T) {
	var failed int64
	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		atomic.AddInt64(&failed, 1)
		return fmt.Errorf("mock error")
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	if err := w.Write(context.Background(), "key", "value", time.Minute); err != nil {
		t.Fatalf("Write enqueue failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt64(&failed) != 1 {
		t.Errorf("tier set calls = %d, want 1", atomic.LoadInt64(&failed))
	}
	if stats := w.Stats(); stats.FailedWrites != 1 {
		t.Errorf("FailedWrites = %d, want 1", stats.FailedWrites)
	}
}

func TestDeleteAndTouch(t *testing.T) {
	tier := mock.NewMockTier("redis")

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()
	ctx := context.Background()

	if err := w.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := w.Touch(ctx, "key2"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if tier.DeleteCalls() != 1 {
		t.Errorf("DeleteCalls = %d, want 1", tier.DeleteCalls())
	}
	if tier.TouchCalls() != 1 {
		t.Errorf("TouchCalls = %d, want 1", tier.TouchCalls())
	}

	stats := w.Stats()
	if stats.DeleteWrites != 1 || stats.TouchWrites != 1 {
		t.Errorf("DeleteWrites/TouchWrites = %d/%d, want 1/1",
			stats.DeleteWrites, stats.TouchWrites)
	}
}

func TestTouchMissingKeyNotAFailure(t *testing.T) {
	tier := mock.NewMockTier("redis")
	tier.TouchFunc = func(ctx context.Context, key string) error {
		return cache.ErrKeyNotFound
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	if err := w.Touch(context.Background(), "ghost"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if stats := w.Stats(); stats.FailedWrites != 0 {
		t.Errorf("FailedWrites = %d, want 0 (expired entry is not a failure)", stats.FailedWrites)
	}
}

func TestTouchUnsupported(t *testing.T) {
	w := NewAsyncWriter(newPlainTier(), AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	if err := w.Touch(context.Background(), "key"); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Touch error = %v, want ErrUnsupported", err)
	}
}

func TestWriteWithTags(t *testing.T) {
	var mu sync.Mutex
	var gotTags []string

	tier := mock.NewMockTier("redis")
	tier.SetWithTagsFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
		mu.Lock()
		defer mu.Unlock()
		gotTags = append([]string(nil), tags...)
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	err := w.WriteWithTags(context.Background(), "user:1", "alice", time.Minute, []string{"users", "premium"})
	if err != nil {
		t.Fatalf("WriteWithTags failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(gotTags) != 2 || gotTags[0] != "users" || gotTags[1] != "premium" {
		t.Errorf("tags = %v, want [users premium]", gotTags)
	}
}

func TestWriteWithTagsDegradesToSet(t *testing.T) {
	tier := newPlainTier()
	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer w.Close()

	err := w.WriteWithTags(context.Background(), "user:1", "alice", time.Minute, []string{"users"})
	if err != nil {
		t.Fatalf("WriteWithTags failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	value, err := tier.Get(context.Background(), "user:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "alice" {
		t.Errorf("stored value = %v, want alice", value)
	}
}

func TestFlush(t *testing.T) {
	var mu sync.Mutex
	writes := make(map[string]interface{})

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		writes[key] = value
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 2})
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), i, time.Minute); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Workers may still be applying the last dequeued items.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(writes) != 5 {
		t.Errorf("writes after flush = %d, want 5", len(writes))
	}
}

func TestFlushTimeout(t *testing.T) {
	blocker := make(chan struct{})
	var once sync.Once

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		once.Do(func() { <-blocker })
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 1})
	defer func() {
		close(blocker)
		w.Close()
	}()

	for i := 0; i < 3; i++ {
		w.Write(context.Background(), fmt.Sprintf("key%d", i), i, time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Flush(ctx); !errors.Is(err, ErrFlushTimeout) {
		t.Errorf("Flush error = %v, want ErrFlushTimeout", err)
	}

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := w.Flush(canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("Flush with canceled context error = %v, want context.Canceled", err)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	writes := make(map[string]interface{})

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		writes[key] = value
		return nil
	}

	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 10, Workers: 2})

	for i := 0; i < 3; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), i, time.Minute); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(writes) != 3 {
		t.Errorf("writes after close = %d, want 3", len(writes))
	}
}

func TestWriteAfterClose(t *testing.T) {
	w := NewAsyncWriter(mock.NewMockTier("redis"), AsyncWriterConfig{QueueSize: 10, Workers: 1})
	w.Close()

	if err := w.Write(context.Background(), "key", "value", time.Minute); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Write after close error = %v, want ErrWriterClosed", err)
	}
}

func TestOrdering(t *testing.T) {
	var mu sync.Mutex
	writes := make([]string, 0)

	tier := mock.NewMockTier("redis")
	tier.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		writes = append(writes, key)
		return nil
	}

	// A single worker applies operations in enqueue order.
	w := NewAsyncWriter(tier, AsyncWriterConfig{QueueSize: 20, Workers: 1})
	defer w.Close()

	keys := []string{"key1", "key2", "key3", "key4", "key5"}
	for _, key := range keys {
		w.Write(context.Background(), key, "value", time.Minute)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(writes) != len(keys) {
		t.Fatalf("writes = %d, want %d", len(writes), len(keys))
	}
	for i, key := range keys {
		if writes[i] != key {
			t.Errorf("write %d = %s, want %s", i, writes[i], key)
		}
	}
}

func BenchmarkWrite(b *testing.B) {
	w := NewAsyncWriter(mock.NewMockTier("redis"), AsyncWriterConfig{
		QueueSize: 10000,
		Workers:   4,
	})
	defer w.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(context.Background(), "key", "value", time.Minute)
	}
}

func BenchmarkConcurrentWrites(b *testing.B) {
	w := NewAsyncWriter(mock.NewMockTier("redis"), AsyncWriterConfig{
		QueueSize: 10000,
		Workers:   4,
	})
	defer w.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			w.Write(context.Background(), fmt.Sprintf("key%d", i), i, time.Minute)
			i++
		}
	})
}
