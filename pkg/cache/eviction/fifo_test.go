package eviction

import "testing"

func TestFIFO_EvictsOldestInsert(t *testing.T) {
	p := newFIFO()

	p.OnPut("first")
	p.OnPut("second")
	p.OnPut("third")

	// Access pattern must not matter.
	p.OnGet("first")
	p.OnGet("first")

	if victim := p.Evict(); victim != "first" {
		t.Errorf("Evict() = %q, want %q", victim, "first")
	}
	if victim := p.Evict(); victim != "second" {
		t.Errorf("Evict() = %q, want %q", victim, "second")
	}
}

func TestFIFO_UpdateKeepsPosition(t *testing.T) {
	p := newFIFO()

	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("a") // update, not re-insert

	if victim := p.Evict(); victim != "a" {
		t.Errorf("Evict() = %q, want %q (updates keep original position)", victim, "a")
	}
}

func TestFIFO_ReinsertAfterRemoveMovesToBack(t *testing.T) {
	p := newFIFO()

	p.OnPut("a")
	p.OnPut("b")
	p.Remove("a")
	p.OnPut("a") // genuine re-insert: now newer than b

	if victim := p.Evict(); victim != "b" {
		t.Errorf("Evict() = %q, want %q (re-inserted key is newest)", victim, "b")
	}
	if victim := p.Evict(); victim != "a" {
		t.Errorf("Evict() = %q, want %q", victim, "a")
	}
}

func TestFIFO_RemoveLeavesOrderIntact(t *testing.T) {
	p := newFIFO()

	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("c")
	p.Remove("b")

	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
	if victim := p.Evict(); victim != "a" {
		t.Errorf("Evict() = %q, want %q", victim, "a")
	}
	if victim := p.Evict(); victim != "c" {
		t.Errorf("Evict() = %q, want %q", victim, "c")
	}
	if victim := p.Evict(); victim != "" {
		t.Errorf("Evict() on empty = %q, want empty", victim)
	}
}

func TestFIFO_CompactionPreservesOrder(t *testing.T) {
	p := newFIFO()

	// Insert and remove enough keys to trigger compaction.
	for i := 0; i < 64; i++ {
		p.OnPut(key(i))
	}
	for i := 0; i < 60; i++ {
		p.Remove(key(i))
	}

	if p.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", p.Len())
	}
	for i := 60; i < 64; i++ {
		if victim := p.Evict(); victim != key(i) {
			t.Errorf("Evict() = %q, want %q", victim, key(i))
		}
	}
}

func key(i int) string {
	return string(rune('a'+i/26)) + string(rune('a'+i%26))
}
