package metrics

import "time"

// fanout forwards every record to each member collector.
type fanout struct {
	collectors []Collector
}

// fanoutTracker is a fanout whose key tracking rides on one member.
type fanoutTracker struct {
	fanout
	KeyTracker
}

// Fanout combines collectors so one chain can feed several backends, a
// registry for the operational API next to a Prometheus exporter being the
// usual pair. Nil members are skipped. When a member implements KeyTracker,
// the first one also serves key tracking for the combined collector.
func Fanout(collectors ...Collector) Collector {
	kept := make([]Collector, 0, len(collectors))
	for _, c := range collectors {
		if c != nil {
			kept = append(kept, c)
		}
	}

	switch len(kept) {
	case 0:
		return NoOpCollector{}
	case 1:
		return kept[0]
	}

	f := fanout{collectors: kept}
	for _, c := range kept {
		if kt, ok := c.(KeyTracker); ok {
			return fanoutTracker{fanout: f, KeyTracker: kt}
		}
	}
	return f
}

func (f fanout) RecordGet(tier string, hit bool, duration time.Duration) {
	for _, c := range f.collectors {
		c.RecordGet(tier, hit, duration)
	}
}

func (f fanout) RecordSet(tier string, success bool, duration time.Duration) {
	for _, c := range f.collectors {
		c.RecordSet(tier, success, duration)
	}
}

func (f fanout) RecordDelete(tier string, success bool, duration time.Duration) {
	for _, c := range f.collectors {
		c.RecordDelete(tier, success, duration)
	}
}

func (f fanout) RecordEviction(tier string, reason string) {
	for _, c := range f.collectors {
		c.RecordEviction(tier, reason)
	}
}

func (f fanout) RecordError(tier string, class string) {
	for _, c := range f.collectors {
		c.RecordError(tier, class)
	}
}

func (f fanout) RecordCircuitState(tier string, state CircuitState) {
	for _, c := range f.collectors {
		c.RecordCircuitState(tier, state)
	}
}

func (f fanout) RecordQueueDepth(tier string, depth int) {
	for _, c := range f.collectors {
		c.RecordQueueDepth(tier, depth)
	}
}

func (f fanout) RecordWriteDropped(tier string) {
	for _, c := range f.collectors {
		c.RecordWriteDropped(tier)
	}
}

func (f fanout) RecordAsyncWrite(tier string, success bool, duration time.Duration) {
	for _, c := range f.collectors {
		c.RecordAsyncWrite(tier, success, duration)
	}
}

func (f fanout) RecordOrchestratorGet(hit bool, tierIndex int, totalDuration time.Duration) {
	for _, c := range f.collectors {
		c.RecordOrchestratorGet(hit, tierIndex, totalDuration)
	}
}
