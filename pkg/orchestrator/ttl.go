package orchestrator

import (
	"math"
	"time"
)

// TTLPolicy derives the TTL for one tier's copy of an entry. index 0 is the
// fastest tier; base is the TTL after the tier's own config policy applied.
type TTLPolicy interface {
	TierTTL(index, total int, base time.Duration) time.Duration
}

// UniformTTL gives every tier the same TTL.
type UniformTTL struct{}

func (UniformTTL) TierTTL(index, total int, base time.Duration) time.Duration {
	return base
}

// DecayingTTL shortens TTLs toward the fast end of the chain: tier i of n
// holds its copy for base * Factor^(n-1-i). Stale copies age out of the small
// fast tiers first while the slow tier keeps the long-lived one. A Factor
// outside (0, 1) behaves like UniformTTL.
type DecayingTTL struct {
	Factor float64
}

func (d DecayingTTL) TierTTL(index, total int, base time.Duration) time.Duration {
	if d.Factor <= 0 || d.Factor >= 1 || base <= 0 {
		return base
	}
	return time.Duration(float64(base) * math.Pow(d.Factor, float64(total-1-index)))
}

// FixedTTL assigns each tier an explicit TTL by chain position, falling back
// to base past the configured ones.
type FixedTTL struct {
	TTLs []time.Duration
}

func (f FixedTTL) TierTTL(index, total int, base time.Duration) time.Duration {
	if index < len(f.TTLs) {
		return f.TTLs[index]
	}
	return base
}
