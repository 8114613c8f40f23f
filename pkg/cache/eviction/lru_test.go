package eviction

import "testing"

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	p := newLRU()

	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("c")

	// Touch a and b; c becomes the least recently used.
	p.OnGet("a")
	p.OnGet("b")

	if victim := p.Evict(); victim != "c" {
		t.Errorf("Evict() = %q, want %q", victim, "c")
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
}

func TestLRU_GetMovesToFront(t *testing.T) {
	p := newLRU()

	p.OnPut("a")
	p.OnPut("b")

	// a is oldest; accessing it makes b the victim.
	p.OnGet("a")

	if victim := p.Evict(); victim != "b" {
		t.Errorf("Evict() = %q, want %q", victim, "b")
	}
}

func TestLRU_UpdateCountsAsUse(t *testing.T) {
	p := newLRU()

	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("a") // overwrite refreshes recency

	if victim := p.Evict(); victim != "b" {
		t.Errorf("Evict() = %q, want %q", victim, "b")
	}
}

func TestLRU_Remove(t *testing.T) {
	p := newLRU()

	p.OnPut("a")
	p.OnPut("b")
	p.Remove("a")

	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
	if victim := p.Evict(); victim != "b" {
		t.Errorf("Evict() = %q, want %q", victim, "b")
	}
	if victim := p.Evict(); victim != "" {
		t.Errorf("Evict() on empty = %q, want empty", victim)
	}
}

func TestLRU_EvictOrder(t *testing.T) {
	p := newLRU()

	keys := []string{"k1", "k2", "k3", "k4"}
	for _, k := range keys {
		p.OnPut(k)
	}

	// With no accesses, eviction order equals insertion order.
	for _, want := range keys {
		if got := p.Evict(); got != want {
			t.Errorf("Evict() = %q, want %q", got, want)
		}
	}
}

func TestLRU_UnknownKeysIgnored(t *testing.T) {
	p := newLRU()

	p.OnGet("ghost")
	p.Remove("ghost")
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}
