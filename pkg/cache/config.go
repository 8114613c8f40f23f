package cache

import "time"

// TierConfig holds per-tier TTL policy and enablement used by the
// orchestrator when deriving the concrete TTL for each tier's copy of an
// entry.
type TierConfig struct {
	// Name is the identifier for this tier (e.g. "memory", "redis")
	Name string

	// DefaultTTL is applied when the caller does not specify a TTL.
	// A zero DefaultTTL means entries are stored without expiration.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL for entries in this tier.
	// Requested values exceeding it are capped to MaxTTL.
	MaxTTL time.Duration

	// Enabled indicates whether this tier is active.
	// Disabled tiers are skipped during cache operations.
	Enabled bool
}

// Validate checks if the configuration is valid.
// Returns an error if any required fields are missing or invalid.
func (c *TierConfig) Validate() error {
	if c.Name == "" {
		return ErrInvalidValue
	}

	if c.DefaultTTL < 0 {
		return ErrInvalidValue
	}

	if c.MaxTTL < 0 {
		return ErrInvalidValue
	}

	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return ErrInvalidValue
	}

	return nil
}

// EffectiveTTL resolves a requested TTL against this tier's policy.
// NoExpiration yields 0 (store forever, bypassing the default); an absent
// TTL (<= 0) yields DefaultTTL; anything above MaxTTL is capped.
func (c *TierConfig) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl == NoExpiration {
		return 0
	}

	if ttl <= 0 {
		return c.DefaultTTL
	}

	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		return c.MaxTTL
	}

	return ttl
}
