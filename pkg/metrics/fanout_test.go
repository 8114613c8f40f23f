package metrics

import (
	"testing"
	"time"
)

type countingCollector struct {
	NoOpCollector
	gets    int
	sets    int
	circuit int
}

func (c *countingCollector) RecordGet(tier string, hit bool, duration time.Duration) { c.gets++ }

func (c *countingCollector) RecordSet(tier string, success bool, duration time.Duration) { c.sets++ }

func (c *countingCollector) RecordCircuitState(tier string, state CircuitState) { c.circuit++ }

func TestFanoutForwardsToAll(t *testing.T) {
	a := &countingCollector{}
	b := &countingCollector{}
	f := Fanout(a, b)

	f.RecordGet("mem", true, time.Millisecond)
	f.RecordGet("mem", false, time.Millisecond)
	f.RecordSet("mem", true, time.Millisecond)
	f.RecordCircuitState("mem", CircuitOpen)

	for i, c := range []*countingCollector{a, b} {
		if c.gets != 2 || c.sets != 1 || c.circuit != 1 {
			t.Errorf("collector %d counts = %d/%d/%d, want 2/1/1", i, c.gets, c.sets, c.circuit)
		}
	}
}

func TestFanoutCollapsesSingle(t *testing.T) {
	a := &countingCollector{}
	if f := Fanout(a); f != Collector(a) {
		t.Errorf("Fanout(a) = %T, want the collector itself", f)
	}
	if f := Fanout(nil, a, nil); f != Collector(a) {
		t.Errorf("Fanout(nil, a, nil) = %T, want the collector itself", f)
	}
}

func TestFanoutEmpty(t *testing.T) {
	f := Fanout()
	if _, ok := f.(NoOpCollector); !ok {
		t.Fatalf("Fanout() = %T, want NoOpCollector", f)
	}
	f.RecordGet("mem", true, time.Millisecond)
}

func TestFanoutCarriesKeyTracker(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	f := Fanout(&countingCollector{}, r)

	kt, ok := f.(KeyTracker)
	if !ok {
		t.Fatalf("Fanout with a registry member does not implement KeyTracker")
	}

	kt.RecordKeyAccess("user:1", true)
	top := kt.TopKeys(1)
	if len(top) != 1 || top[0].Key != "user:1" {
		t.Errorf("TopKeys(1) = %v, want user:1", top)
	}
}

func TestFanoutWithoutKeyTracker(t *testing.T) {
	f := Fanout(&countingCollector{}, &countingCollector{})
	if _, ok := f.(KeyTracker); ok {
		t.Error("fanout of plain collectors should not implement KeyTracker")
	}
}
