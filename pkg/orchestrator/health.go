package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// canaryTTL keeps orphaned canaries from outliving a crashed health check.
const canaryTTL = 30 * time.Second

// TierHealth is the outcome of one tier's canary round trip.
type TierHealth struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// HealthCheck probes every tier concurrently: write a unique canary entry,
// read it back, verify it, delete it. A tier is healthy when the full round
// trip succeeds within its own timeout budget.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]TierHealth {
	results := make([]TierHealth, len(o.tiers))

	var wg sync.WaitGroup
	for i, h := range o.tiers {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.checkTier(ctx, h)
		}()
	}
	wg.Wait()

	out := make(map[string]TierHealth, len(o.tiers))
	for i, h := range o.tiers {
		out[h.name] = results[i]
	}
	return out
}

func (o *Orchestrator) checkTier(ctx context.Context, h *tierHandle) TierHealth {
	key := "health:canary:" + uuid.NewString()
	value := uuid.NewString()
	start := time.Now()

	if err := h.tier.Set(ctx, key, value, canaryTTL); err != nil {
		return TierHealth{Latency: time.Since(start), Error: err.Error()}
	}
	got, err := h.tier.Get(ctx, key)
	if err != nil {
		return TierHealth{Latency: time.Since(start), Error: err.Error()}
	}
	if got != value {
		return TierHealth{Latency: time.Since(start), Error: "canary value mismatch"}
	}
	if err := h.tier.Delete(ctx, key); err != nil {
		return TierHealth{Latency: time.Since(start), Error: err.Error()}
	}
	return TierHealth{Healthy: true, Latency: time.Since(start)}
}
