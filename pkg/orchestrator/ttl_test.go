package orchestrator

import (
	"testing"
	"time"
)

func TestUniformTTL(t *testing.T) {
	policy := UniformTTL{}
	for index := 0; index < 3; index++ {
		if got := policy.TierTTL(index, 3, time.Minute); got != time.Minute {
			t.Errorf("TierTTL(%d) = %v, want 1m", index, got)
		}
	}
	if got := policy.TierTTL(0, 3, 0); got != 0 {
		t.Errorf("TierTTL with no expiry = %v, want 0", got)
	}
}

func TestDecayingTTL(t *testing.T) {
	policy := DecayingTTL{Factor: 0.5}
	base := 20 * time.Minute

	tests := []struct {
		index int
		total int
		want  time.Duration
	}{
		{0, 3, 5 * time.Minute},
		{1, 3, 10 * time.Minute},
		{2, 3, 20 * time.Minute},
		{0, 1, 20 * time.Minute},
	}
	for _, tt := range tests {
		if got := policy.TierTTL(tt.index, tt.total, base); got != tt.want {
			t.Errorf("TierTTL(%d, %d) = %v, want %v", tt.index, tt.total, got, tt.want)
		}
	}
}

func TestDecayingTTLDegenerateCases(t *testing.T) {
	base := 10 * time.Minute

	// No expiry stays no expiry.
	if got := (DecayingTTL{Factor: 0.5}).TierTTL(0, 3, 0); got != 0 {
		t.Errorf("TierTTL with base 0 = %v, want 0", got)
	}

	// A factor outside (0, 1) cannot decay; the base passes through.
	for _, factor := range []float64{0, 1, 1.5, -0.5} {
		if got := (DecayingTTL{Factor: factor}).TierTTL(0, 3, base); got != base {
			t.Errorf("TierTTL with factor %v = %v, want %v", factor, got, base)
		}
	}
}

func TestFixedTTL(t *testing.T) {
	policy := FixedTTL{TTLs: []time.Duration{time.Minute, time.Hour}}

	if got := policy.TierTTL(0, 3, 10*time.Minute); got != time.Minute {
		t.Errorf("TierTTL(0) = %v, want 1m", got)
	}
	if got := policy.TierTTL(1, 3, 10*time.Minute); got != time.Hour {
		t.Errorf("TierTTL(1) = %v, want 1h", got)
	}
	// Tiers past the configured list fall back to the base.
	if got := policy.TierTTL(2, 3, 10*time.Minute); got != 10*time.Minute {
		t.Errorf("TierTTL(2) = %v, want the 10m base", got)
	}
}
