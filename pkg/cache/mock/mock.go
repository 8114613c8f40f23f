package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

// MockTier is a mock implementation of Tier for testing.
// It allows injecting custom behavior for each method and tracks call counts.
// The zero value is usable: every operation succeeds and Get returns nil.
type MockTier struct {
	// Function hooks - set these to customize behavior
	GetFunc             func(ctx context.Context, key string) (interface{}, error)
	GetWithMetadataFunc func(ctx context.Context, key string) (*cache.Entry, bool, error)
	SetFunc             func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetWithTagsFunc     func(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error
	AssociateTagsFunc   func(ctx context.Context, key string, tags []string) error
	InvalidateTagFunc   func(ctx context.Context, tag string) ([]string, error)
	DeleteFunc          func(ctx context.Context, key string) error
	DeletePatternFunc   func(ctx context.Context, pattern string) (int, error)
	TouchFunc           func(ctx context.Context, key string) error
	CleanupFunc         func(ctx context.Context) (int, error)
	MGetFunc            func(ctx context.Context, keys []string) (map[string]interface{}, error)
	MSetFunc            func(ctx context.Context, items map[string]interface{}, ttl time.Duration) error
	MDeleteFunc         func(ctx context.Context, keys []string) error
	NameFunc            func() string
	CloseFunc           func() error

	// Call tracking (must use atomic operations for race-free access)
	getCalls           int64
	getMetaCalls       int64
	setCalls           int64
	setWithTagsCalls   int64
	associateTagCalls  int64
	invalidateTagCalls int64
	deleteCalls        int64
	deletePatternCalls int64
	touchCalls         int64
	cleanupCalls       int64
	mgetCalls          int64
	msetCalls          int64
	mdeleteCalls       int64
	closeCalls         int64
}

// Get implements Tier.Get with optional custom behavior.
func (m *MockTier) Get(ctx context.Context, key string) (interface{}, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, nil
}

// GetWithMetadata implements MetadataTier with optional custom behavior.
func (m *MockTier) GetWithMetadata(ctx context.Context, key string) (*cache.Entry, bool, error) {
	atomic.AddInt64(&m.getMetaCalls, 1)
	if m.GetWithMetadataFunc != nil {
		return m.GetWithMetadataFunc(ctx, key)
	}
	return nil, false, cache.ErrKeyNotFound
}

// Set implements Tier.Set with optional custom behavior.
func (m *MockTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

// SetWithTags implements TaggedTier with optional custom behavior.
func (m *MockTier) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	atomic.AddInt64(&m.setWithTagsCalls, 1)
	if m.SetWithTagsFunc != nil {
		return m.SetWithTagsFunc(ctx, key, value, ttl, tags)
	}
	return nil
}

// AssociateTags implements TaggedTier with optional custom behavior.
func (m *MockTier) AssociateTags(ctx context.Context, key string, tags []string) error {
	atomic.AddInt64(&m.associateTagCalls, 1)
	if m.AssociateTagsFunc != nil {
		return m.AssociateTagsFunc(ctx, key, tags)
	}
	return nil
}

// InvalidateTag implements TaggedTier with optional custom behavior.
func (m *MockTier) InvalidateTag(ctx context.Context, tag string) ([]string, error) {
	atomic.AddInt64(&m.invalidateTagCalls, 1)
	if m.InvalidateTagFunc != nil {
		return m.InvalidateTagFunc(ctx, tag)
	}
	return nil, nil
}

// Delete implements Tier.Delete with optional custom behavior.
func (m *MockTier) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

// DeletePattern implements PatternTier with optional custom behavior.
func (m *MockTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	atomic.AddInt64(&m.deletePatternCalls, 1)
	if m.DeletePatternFunc != nil {
		return m.DeletePatternFunc(ctx, pattern)
	}
	return 0, nil
}

// Touch implements Toucher with optional custom behavior.
func (m *MockTier) Touch(ctx context.Context, key string) error {
	atomic.AddInt64(&m.touchCalls, 1)
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, key)
	}
	return nil
}

// Cleanup implements Sweeper with optional custom behavior.
func (m *MockTier) Cleanup(ctx context.Context) (int, error) {
	atomic.AddInt64(&m.cleanupCalls, 1)
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx)
	}
	return 0, nil
}

// MGet implements BatchTier with optional custom behavior.
func (m *MockTier) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	atomic.AddInt64(&m.mgetCalls, 1)
	if m.MGetFunc != nil {
		return m.MGetFunc(ctx, keys)
	}
	return map[string]interface{}{}, nil
}

// MSet implements BatchTier with optional custom behavior.
func (m *MockTier) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	atomic.AddInt64(&m.msetCalls, 1)
	if m.MSetFunc != nil {
		return m.MSetFunc(ctx, items, ttl)
	}
	return nil
}

// MDelete implements BatchTier with optional custom behavior.
func (m *MockTier) MDelete(ctx context.Context, keys []string) error {
	atomic.AddInt64(&m.mdeleteCalls, 1)
	if m.MDeleteFunc != nil {
		return m.MDeleteFunc(ctx, keys)
	}
	return nil
}

// Name implements Tier.Name with optional custom behavior.
func (m *MockTier) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements Tier.Close with optional custom behavior.
func (m *MockTier) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *MockTier) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// GetWithMetadataCalls returns the number of GetWithMetadata calls (thread-safe).
func (m *MockTier) GetWithMetadataCalls() int {
	return int(atomic.LoadInt64(&m.getMetaCalls))
}

// SetCalls returns the number of Set calls (thread-safe).
func (m *MockTier) SetCalls() int {
	return int(atomic.LoadInt64(&m.setCalls))
}

// SetWithTagsCalls returns the number of SetWithTags calls (thread-safe).
func (m *MockTier) SetWithTagsCalls() int {
	return int(atomic.LoadInt64(&m.setWithTagsCalls))
}

// AssociateTagsCalls returns the number of AssociateTags calls (thread-safe).
func (m *MockTier) AssociateTagsCalls() int {
	return int(atomic.LoadInt64(&m.associateTagCalls))
}

// InvalidateTagCalls returns the number of InvalidateTag calls (thread-safe).
func (m *MockTier) InvalidateTagCalls() int {
	return int(atomic.LoadInt64(&m.invalidateTagCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *MockTier) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// DeletePatternCalls returns the number of DeletePattern calls (thread-safe).
func (m *MockTier) DeletePatternCalls() int {
	return int(atomic.LoadInt64(&m.deletePatternCalls))
}

// TouchCalls returns the number of Touch calls (thread-safe).
func (m *MockTier) TouchCalls() int {
	return int(atomic.LoadInt64(&m.touchCalls))
}

// CleanupCalls returns the number of Cleanup calls (thread-safe).
func (m *MockTier) CleanupCalls() int {
	return int(atomic.LoadInt64(&m.cleanupCalls))
}

// MGetCalls returns the number of MGet calls (thread-safe).
func (m *MockTier) MGetCalls() int {
	return int(atomic.LoadInt64(&m.mgetCalls))
}

// MSetCalls returns the number of MSet calls (thread-safe).
func (m *MockTier) MSetCalls() int {
	return int(atomic.LoadInt64(&m.msetCalls))
}

// MDeleteCalls returns the number of MDelete calls (thread-safe).
func (m *MockTier) MDeleteCalls() int {
	return int(atomic.LoadInt64(&m.mdeleteCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *MockTier) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}

// NewMockTier creates a new MockTier with default behavior.
// By default, all operations succeed and return nil.
func NewMockTier(name string) *MockTier {
	return &MockTier{
		NameFunc: func() string { return name },
	}
}

// NewMockTierWithDefaults creates a MockTier that behaves like an empty tier.
// Get and GetWithMetadata return ErrKeyNotFound, writes succeed.
func NewMockTierWithDefaults(name string) *MockTier {
	return &MockTier{
		NameFunc: func() string { return name },
		GetFunc: func(ctx context.Context, key string) (interface{}, error) {
			return nil, cache.ErrKeyNotFound
		},
		GetWithMetadataFunc: func(ctx context.Context, key string) (*cache.Entry, bool, error) {
			return nil, false, cache.ErrKeyNotFound
		},
		SetFunc: func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
			return nil
		},
		DeleteFunc: func(ctx context.Context, key string) error {
			return nil
		},
		CloseFunc: func() error {
			return nil
		},
	}
}

// NewStoringMockTier creates a MockTier backed by a plain map so tests can
// observe what was written without wiring a real tier. It ignores TTLs.
func NewStoringMockTier(name string) *MockTier {
	var mu sync.Mutex
	store := make(map[string]interface{})

	m := NewMockTier(name)
	m.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		v, ok := store[key]
		if !ok {
			return nil, cache.ErrKeyNotFound
		}
		return v, nil
	}
	m.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		store[key] = value
		return nil
	}
	m.DeleteFunc = func(ctx context.Context, key string) error {
		mu.Lock()
		defer mu.Unlock()
		delete(store, key)
		return nil
	}
	m.MGetFunc = func(ctx context.Context, keys []string) (map[string]interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		result := make(map[string]interface{})
		for _, key := range keys {
			if v, ok := store[key]; ok {
				result[key] = v
			}
		}
		return result, nil
	}
	m.MSetFunc = func(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		for key, v := range items {
			store[key] = v
		}
		return nil
	}
	m.MDeleteFunc = func(ctx context.Context, keys []string) error {
		mu.Lock()
		defer mu.Unlock()
		for _, key := range keys {
			delete(store, key)
		}
		return nil
	}
	return m
}
