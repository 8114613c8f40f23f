package metrics

import (
	"sort"
	"time"
)

// latencyRing keeps the most recent samples for one operation. Old samples
// fall off as new ones arrive, so percentiles always describe recent load.
type latencyRing struct {
	samples []time.Duration
	next    int
	count   int
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{samples: make([]time.Duration, size)}
}

func (l *latencyRing) add(d time.Duration) {
	l.samples[l.next] = d
	l.next = (l.next + 1) % len(l.samples)
	if l.count < len(l.samples) {
		l.count++
	}
}

// percentiles sorts a copy of the held samples and reads nearest-rank
// percentiles from it.
func (l *latencyRing) percentiles() Percentiles {
	if l.count == 0 {
		return Percentiles{}
	}
	sorted := make([]time.Duration, l.count)
	copy(sorted, l.samples[:l.count])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Percentiles{
		P50:   nearestRank(sorted, 50),
		P90:   nearestRank(sorted, 90),
		P95:   nearestRank(sorted, 95),
		P99:   nearestRank(sorted, 99),
		Count: l.count,
	}
}

func nearestRank(sorted []time.Duration, pct int) time.Duration {
	idx := (len(sorted)*pct + 99) / 100
	if idx < 1 {
		idx = 1
	}
	return sorted[idx-1]
}

// Percentiles summarizes one latency ring.
type Percentiles struct {
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int           `json:"count"`
}

// rollingWindow is a circular buffer of per-second buckets. Advancing zeroes
// the seconds skipped since the last record, so idle gaps read as zeros
// rather than stale counts.
type rollingWindow struct {
	buckets    []windowBucket
	currentSec int64
	currentIdx int
}

type windowBucket struct {
	hits       int64
	misses     int64
	latencySum time.Duration
}

func newRollingWindow(seconds int) *rollingWindow {
	return &rollingWindow{buckets: make([]windowBucket, seconds)}
}

func (w *rollingWindow) advance(nowSec int64) {
	if w.currentSec == 0 {
		w.currentSec = nowSec
		return
	}
	steps := nowSec - w.currentSec
	if steps <= 0 {
		return
	}
	if steps >= int64(len(w.buckets)) {
		for i := range w.buckets {
			w.buckets[i] = windowBucket{}
		}
		w.currentSec = nowSec
		return
	}
	for ; steps > 0; steps-- {
		w.currentIdx = (w.currentIdx + 1) % len(w.buckets)
		w.buckets[w.currentIdx] = windowBucket{}
		w.currentSec++
	}
}

func (w *rollingWindow) record(nowSec int64, hit bool, d time.Duration) {
	w.advance(nowSec)
	b := &w.buckets[w.currentIdx]
	if hit {
		b.hits++
	} else {
		b.misses++
	}
	b.latencySum += d
}

func (w *rollingWindow) stats(nowSec int64) WindowStats {
	w.advance(nowSec)

	s := WindowStats{Seconds: len(w.buckets)}
	var latencySum time.Duration
	for _, b := range w.buckets {
		s.Hits += b.hits
		s.Misses += b.misses
		latencySum += b.latencySum
	}
	ops := s.Hits + s.Misses
	if ops > 0 {
		s.HitRate = float64(s.Hits) / float64(ops)
		s.AvgLatency = latencySum / time.Duration(ops)
	}
	s.Throughput = float64(ops) / float64(len(w.buckets))
	return s
}

// WindowStats aggregates the rolling window.
type WindowStats struct {
	Seconds    int           `json:"seconds"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	HitRate    float64       `json:"hit_rate"`
	Throughput float64       `json:"throughput"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// TierSnapshot is a point-in-time copy of one tier's metrics.
type TierSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	HitRate float64 `json:"hit_rate"`

	EvictionsByReason map[string]int64 `json:"evictions_by_reason,omitempty"`
	ErrorsByClass     map[string]int64 `json:"errors_by_class,omitempty"`

	CircuitState CircuitState `json:"circuit_state"`
	CircuitOpens int64        `json:"circuit_opens"`

	QueueDepth    int   `json:"queue_depth"`
	DroppedWrites int64 `json:"dropped_writes"`
	AsyncWrites   int64 `json:"async_writes"`
	AsyncErrors   int64 `json:"async_errors"`

	Latency map[string]Percentiles `json:"latency,omitempty"`
}

// OrchestratorSnapshot is a point-in-time copy of end-to-end get metrics.
type OrchestratorSnapshot struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	HitRate         float64       `json:"hit_rate"`
	HitsByTierIndex map[int]int64 `json:"hits_by_tier_index,omitempty"`
	Latency         Percentiles   `json:"latency"`
}

// Snapshot is a point-in-time copy of all registry state.
type Snapshot struct {
	Tiers        map[string]TierSnapshot `json:"tiers"`
	Orchestrator OrchestratorSnapshot    `json:"orchestrator"`
	Window       WindowStats             `json:"window"`
	TrackedKeys  int                     `json:"tracked_keys"`
	TakenAt      time.Time               `json:"taken_at"`
}

// Snapshot copies out all current metrics. The result shares no memory
// with the registry.
func (r *Registry) Snapshot() Snapshot {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Tiers:       make(map[string]TierSnapshot, len(r.tiers)),
		TrackedKeys: len(r.keys),
		TakenAt:     now,
	}

	for name, tm := range r.tiers {
		ts := TierSnapshot{
			Hits:              tm.hits,
			Misses:            tm.misses,
			Sets:              tm.sets,
			Deletes:           tm.deletes,
			EvictionsByReason: copyCounts(tm.evictionsByReason),
			ErrorsByClass:     copyCounts(tm.errorsByClass),
			CircuitState:      tm.circuitState,
			CircuitOpens:      tm.circuitOpens,
			QueueDepth:        tm.queueDepth,
			DroppedWrites:     tm.droppedWrites,
			AsyncWrites:       tm.asyncWrites,
			AsyncErrors:       tm.asyncErrors,
			Latency:           make(map[string]Percentiles, len(tm.latencies)),
		}
		if total := tm.hits + tm.misses; total > 0 {
			ts.HitRate = float64(tm.hits) / float64(total)
		}
		for op, ring := range tm.latencies {
			ts.Latency[op] = ring.percentiles()
		}
		snap.Tiers[name] = ts
	}

	snap.Orchestrator = OrchestratorSnapshot{
		Hits:            r.orchHits,
		Misses:          r.orchMisses,
		HitsByTierIndex: make(map[int]int64, len(r.orchHitsByTier)),
		Latency:         r.orchLatency.percentiles(),
	}
	if total := r.orchHits + r.orchMisses; total > 0 {
		snap.Orchestrator.HitRate = float64(r.orchHits) / float64(total)
	}
	for idx, hits := range r.orchHitsByTier {
		snap.Orchestrator.HitsByTierIndex[idx] = hits
	}

	snap.Window = r.window.stats(now.Unix())
	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
