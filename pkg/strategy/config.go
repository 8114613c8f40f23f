package strategy

import (
	"fmt"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/codec"
)

// Consistency selects how aggressively writes fan out across tiers.
type Consistency string

const (
	// Strong writes to every configured tier synchronously.
	Strong Consistency = "strong"

	// Eventual routes writes by value size and key heat: large values go to
	// the distributed tier only, hot keys to memory and distributed, and
	// everything else to the distributed tier.
	Eventual Consistency = "eventual"

	// Weak writes to the single fastest applicable tier.
	Weak Consistency = "weak"
)

// InvalidationMode is the configured baseline for invalidation planning.
type InvalidationMode string

const (
	// WriteThrough invalidates every tier immediately.
	WriteThrough InvalidationMode = "write-through"

	// WriteBehind batches invalidations behind a flush interval.
	WriteBehind InvalidationMode = "write-behind"

	// WriteAround invalidates memory now and leaves the distributed tier
	// to its TTL.
	WriteAround InvalidationMode = "write-around"
)

// Conditions restricts a tier to the keys and values it suits. Zero-valued
// bounds are ignored, as are size/TTL bounds when the caller has no hint.
type Conditions struct {
	// KeyPattern is a glob ('*' any run, '?' one character) the key must
	// match. Empty matches every key.
	KeyPattern string

	// MinSize/MaxSize bound the value size in bytes.
	MinSize int64
	MaxSize int64

	// MinTTL/MaxTTL bound the entry's TTL.
	MinTTL time.Duration
	MaxTTL time.Duration

	// MinRate/MaxRate bound the key's observed request rate in req/s.
	MinRate float64
	MaxRate float64
}

// TierWeight names a tier the strategy may route to.
type TierWeight struct {
	// Name must match the tier name registered with the orchestrator.
	Name string

	// Kind tells the strategy whether this is a memory or a distributed
	// tier, which drives hot-key fronting and consistency routing.
	Kind cache.Kind

	// Weight orders reads, highest first.
	Weight int

	// Conditions, when set, restrict which keys this tier serves on reads.
	Conditions *Conditions
}

// HotKeyConfig tunes hot-key detection.
type HotKeyConfig struct {
	// Window is the measurement window per key. Default: 1m
	Window time.Duration

	// Threshold is the request rate in req/s at and above which a key
	// counts as hot. Default: 100
	Threshold float64
}

// InvalidationConfig tunes invalidation planning.
type InvalidationConfig struct {
	// Mode is the configured baseline. Default: write-through
	Mode InvalidationMode

	// FlushInterval delays write-behind invalidations. Default: 5s
	FlushInterval time.Duration

	// MinBatchWindow is the floor applied to batched (multi-tag or pattern)
	// invalidations so a burst of them coalesces. Default: 2s
	MinBatchWindow time.Duration
}

// Config configures a Strategy.
type Config struct {
	// Tiers lists the routable tiers with their read weights.
	// Default: memory (weight 100) over redis (weight 50).
	Tiers []TierWeight

	// Consistency selects the write fan-out policy. Default: eventual
	Consistency Consistency

	// LargeValueBytes is the size at and above which a value is considered
	// large and kept out of memory tiers. Default: 64KiB
	LargeValueBytes int64

	// CompressionThreshold is the size at and above which placement
	// recommendations suggest compressing.
	// Default: codec.DefaultCompressionThreshold
	CompressionThreshold int64

	HotKey       HotKeyConfig
	Invalidation InvalidationConfig
}

// DefaultConfig returns a strategy configuration for the common two-tier
// memory-over-redis layout.
func DefaultConfig() Config {
	return Config{
		Tiers: []TierWeight{
			{Name: "memory", Kind: cache.KindMemory, Weight: 100},
			{Name: "redis", Kind: cache.KindDistributed, Weight: 50},
		},
		Consistency:          Eventual,
		LargeValueBytes:      64 << 10,
		CompressionThreshold: int64(codec.DefaultCompressionThreshold),
		HotKey: HotKeyConfig{
			Window:    time.Minute,
			Threshold: 100,
		},
		Invalidation: InvalidationConfig{
			Mode:           WriteThrough,
			FlushInterval:  5 * time.Second,
			MinBatchWindow: 2 * time.Second,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("strategy: at least one tier is required")
	}

	seen := make(map[string]bool, len(c.Tiers))
	for _, tw := range c.Tiers {
		if tw.Name == "" {
			return fmt.Errorf("strategy: tier name must not be empty")
		}
		if seen[tw.Name] {
			return fmt.Errorf("strategy: duplicate tier name %q", tw.Name)
		}
		seen[tw.Name] = true

		if tw.Kind != cache.KindMemory && tw.Kind != cache.KindDistributed {
			return fmt.Errorf("strategy: tier %q has unknown kind %q", tw.Name, tw.Kind)
		}
		if tw.Conditions != nil && tw.Conditions.KeyPattern != "" {
			if err := cache.ValidatePattern(tw.Conditions.KeyPattern); err != nil {
				return fmt.Errorf("strategy: tier %q: %w", tw.Name, err)
			}
		}
	}

	switch c.Consistency {
	case Strong, Eventual, Weak:
	default:
		return fmt.Errorf("strategy: unknown consistency level %q", c.Consistency)
	}

	switch c.Invalidation.Mode {
	case WriteThrough, WriteBehind, WriteAround:
	default:
		return fmt.Errorf("strategy: unknown invalidation mode %q", c.Invalidation.Mode)
	}

	if c.HotKey.Threshold < 0 {
		return fmt.Errorf("strategy: hot key threshold must not be negative")
	}
	return nil
}

// WithConsistency returns a copy of the config with the specified consistency level.
func (c Config) WithConsistency(level Consistency) Config {
	c.Consistency = level
	return c
}

// WithTiers returns a copy of the config with the specified tier list.
func (c Config) WithTiers(tiers ...TierWeight) Config {
	c.Tiers = tiers
	return c
}

// WithHotKeyThreshold returns a copy of the config with the specified hot-key rate.
func (c Config) WithHotKeyThreshold(reqPerSec float64) Config {
	c.HotKey.Threshold = reqPerSec
	return c
}

// WithInvalidationMode returns a copy of the config with the specified baseline mode.
func (c Config) WithInvalidationMode(mode InvalidationMode) Config {
	c.Invalidation.Mode = mode
	return c
}
