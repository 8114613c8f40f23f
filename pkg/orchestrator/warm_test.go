package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"
)

// hotRegistry returns a Registry with the given keys pre-marked hot.
func hotRegistry(keys map[string]int) *metrics.Registry {
	reg := metrics.NewRegistry(metrics.DefaultRegistryConfig())
	for key, requests := range keys {
		for i := 0; i < requests; i++ {
			reg.RecordKeyAccess(key, true)
		}
	}
	return reg
}

func TestWarmPopulatesMemory(t *testing.T) {
	reg := hotRegistry(map[string]int{"user:1": 10, "user:2": 10})
	orch, mem, redis := newTwoTier(t, Config{Metrics: reg})
	ctx := context.Background()

	redis.Set(ctx, "user:1", "alice", 0)
	redis.Set(ctx, "user:2", "bob", 0)

	warmed, err := orch.Warm(ctx, 2)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if warmed != 2 {
		t.Errorf("Warm = %d, want 2", warmed)
	}

	waitFor(t, time.Second, func() bool {
		v1, err1 := mem.Get(ctx, "user:1")
		v2, err2 := mem.Get(ctx, "user:2")
		return err1 == nil && v1 == "alice" && err2 == nil && v2 == "bob"
	}, "hot keys in mem")
}

func TestWarmWithoutKeyTracker(t *testing.T) {
	// The default collector tracks no keys, so there is nothing to warm.
	orch, _, redis := newTwoTier(t, Config{})

	warmed, err := orch.Warm(context.Background(), 10)
	if warmed != 0 || err != nil {
		t.Errorf("Warm = %d, %v, want 0, nil", warmed, err)
	}
	if redis.GetCalls() != 0 {
		t.Errorf("redis GetCalls = %d, want 0", redis.GetCalls())
	}
}

func TestWarmSkipsEvictedKeys(t *testing.T) {
	// The tracker remembers a key the distributed tier no longer holds.
	reg := hotRegistry(map[string]int{"ghost": 10})
	orch, mem, _ := newTwoTier(t, Config{Metrics: reg})

	warmed, err := orch.Warm(context.Background(), 5)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if warmed != 0 {
		t.Errorf("Warm = %d, want 0", warmed)
	}

	time.Sleep(50 * time.Millisecond)
	if mem.SetCalls() != 0 {
		t.Errorf("mem SetCalls = %d, want 0", mem.SetCalls())
	}
}

func TestWarmLeavesLargeValuesOut(t *testing.T) {
	reg := hotRegistry(map[string]int{"blob": 10})
	orch, mem, redis := newTwoTier(t, Config{Metrics: reg})
	ctx := context.Background()

	// Past the large-value bound the placement recommendation keeps the key
	// out of memory, so there is nowhere to warm it into.
	redis.Set(ctx, "blob", strings.Repeat("x", 70000), 0)

	warmed, err := orch.Warm(ctx, 5)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if warmed != 0 {
		t.Errorf("Warm = %d, want 0 for a large value", warmed)
	}

	time.Sleep(50 * time.Millisecond)
	if mem.SetCalls() != 0 {
		t.Errorf("mem SetCalls = %d, want 0", mem.SetCalls())
	}
}

func TestWarmHonorsLimit(t *testing.T) {
	reg := hotRegistry(map[string]int{"user:1": 10, "user:2": 10, "user:3": 2})
	orch, mem, redis := newTwoTier(t, Config{Metrics: reg})
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "user:3"} {
		redis.Set(ctx, key, "v", 0)
	}

	warmed, err := orch.Warm(ctx, 2)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if warmed != 2 {
		t.Errorf("Warm = %d, want 2", warmed)
	}

	waitFor(t, time.Second, func() bool {
		_, err1 := mem.Get(ctx, "user:1")
		_, err2 := mem.Get(ctx, "user:2")
		return err1 == nil && err2 == nil
	}, "the two hottest keys in mem")

	// The cold tail stayed out.
	if _, err := mem.Get(ctx, "user:3"); !cache.IsNotFound(err) {
		t.Error("user:3 was warmed despite the limit")
	}
}

func TestWarmAfterClose(t *testing.T) {
	reg := hotRegistry(map[string]int{"user:1": 10})
	orch, _, _ := newTwoTier(t, Config{Metrics: reg})
	orch.Close()

	if _, err := orch.Warm(context.Background(), 1); !errors.Is(err, cache.ErrTierClosed) {
		t.Errorf("Warm after close error = %v, want ErrTierClosed", err)
	}
}
