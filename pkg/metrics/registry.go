package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultRingSize caps latency samples kept per tier and operation.
	DefaultRingSize = 1000

	// DefaultMaxTrackedKeys caps the per-key hotness map.
	DefaultMaxTrackedKeys = 10000

	// DefaultWindowSeconds is the rolling dashboard window length.
	DefaultWindowSeconds = 60

	// DefaultHalfLife controls how fast hotness decays while a key is idle.
	DefaultHalfLife = 15 * time.Minute
)

// Latency ring-buffer operation names.
const (
	opGet    = "get"
	opSet    = "set"
	opDelete = "delete"
	opAsync  = "async"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// RingSize is the number of latency samples kept per tier and
	// operation. Default: 1000
	RingSize int

	// MaxTrackedKeys bounds the hotness map. When full, the lowest-scored
	// tenth is pruned to admit new keys. Default: 10000
	MaxTrackedKeys int

	// WindowSeconds is the length of the rolling per-second window.
	// Default: 60
	WindowSeconds int

	// HalfLife is the idle time after which a key's hotness halves.
	// Default: 15m
	HalfLife time.Duration
}

// DefaultRegistryConfig returns the default registry sizing.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		RingSize:       DefaultRingSize,
		MaxTrackedKeys: DefaultMaxTrackedKeys,
		WindowSeconds:  DefaultWindowSeconds,
		HalfLife:       DefaultHalfLife,
	}
}

// KeyTracker is implemented by collectors that maintain per-key hotness.
// The orchestrator feature-detects it so plain collectors stay cheap.
type KeyTracker interface {
	RecordKeyAccess(key string, hit bool)
	TopKeys(n int) []KeyScore
}

// Registry is the in-process metrics store: per-tier counters, bounded
// latency samples with percentile extraction, per-key hotness scoring, and
// a rolling per-second window for dashboards. It implements Collector.
type Registry struct {
	config RegistryConfig

	mu    sync.Mutex
	tiers map[string]*tierMetrics
	keys  map[string]*keyStats

	orchHits       int64
	orchMisses     int64
	orchHitsByTier map[int]int64
	orchLatency    *latencyRing

	window *rollingWindow

	now func() time.Time
}

type tierMetrics struct {
	hits    int64
	misses  int64
	sets    int64
	deletes int64

	evictionsByReason map[string]int64
	errorsByClass     map[string]int64

	circuitState CircuitState
	circuitOpens int64

	queueDepth    int
	droppedWrites int64
	asyncWrites   int64
	asyncErrors   int64

	latencies map[string]*latencyRing
}

type keyStats struct {
	requests   int64
	hits       int64
	lastAccess time.Time
}

// score combines recency, volume, and usefulness into one ranking value.
func (k *keyStats) score(now time.Time, halfLife time.Duration) float64 {
	if k.requests == 0 {
		return 0
	}
	age := now.Sub(k.lastAccess)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
	volume := math.Log(float64(k.requests) + 1)
	hitRate := float64(k.hits) / float64(k.requests)
	return recency * volume * hitRate
}

// NewRegistry creates a Registry, replacing out-of-range config values with
// defaults.
func NewRegistry(config RegistryConfig) *Registry {
	defaults := DefaultRegistryConfig()
	if config.RingSize <= 0 {
		config.RingSize = defaults.RingSize
	}
	if config.MaxTrackedKeys <= 0 {
		config.MaxTrackedKeys = defaults.MaxTrackedKeys
	}
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = defaults.WindowSeconds
	}
	if config.HalfLife <= 0 {
		config.HalfLife = defaults.HalfLife
	}

	return &Registry{
		config:         config,
		tiers:          make(map[string]*tierMetrics),
		keys:           make(map[string]*keyStats),
		orchHitsByTier: make(map[int]int64),
		orchLatency:    newLatencyRing(config.RingSize),
		window:         newRollingWindow(config.WindowSeconds),
		now:            time.Now,
	}
}

// tierLocked returns the metrics for tier, creating them if needed.
// The caller must hold r.mu.
func (r *Registry) tierLocked(tier string) *tierMetrics {
	tm, ok := r.tiers[tier]
	if !ok {
		tm = &tierMetrics{
			evictionsByReason: make(map[string]int64),
			errorsByClass:     make(map[string]int64),
			latencies:         make(map[string]*latencyRing),
		}
		r.tiers[tier] = tm
	}
	return tm
}

func (t *tierMetrics) ring(op string, size int) *latencyRing {
	ring, ok := t.latencies[op]
	if !ok {
		ring = newLatencyRing(size)
		t.latencies[op] = ring
	}
	return ring
}

// RecordGet records a tier-level get.
func (r *Registry) RecordGet(tier string, hit bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tm := r.tierLocked(tier)
	if hit {
		tm.hits++
	} else {
		tm.misses++
	}
	tm.ring(opGet, r.config.RingSize).add(duration)
}

// RecordSet records a tier-level set.
func (r *Registry) RecordSet(tier string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tm := r.tierLocked(tier)
	tm.sets++
	if !success {
		tm.errorsByClass[opSet]++
	}
	tm.ring(opSet, r.config.RingSize).add(duration)
}

// RecordDelete records a tier-level delete.
func (r *Registry) RecordDelete(tier string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tm := r.tierLocked(tier)
	tm.deletes++
	if !success {
		tm.errorsByClass[opDelete]++
	}
	tm.ring(opDelete, r.config.RingSize).add(duration)
}

// RecordEviction counts an eviction by reason ("expired" or "capacity").
func (r *Registry) RecordEviction(tier string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tierLocked(tier).evictionsByReason[reason]++
}

// RecordError counts an error by classification.
func (r *Registry) RecordError(tier string, class string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tierLocked(tier).errorsByClass[class]++
}

// RecordCircuitState stores the breaker state and counts transitions to open.
func (r *Registry) RecordCircuitState(tier string, state CircuitState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tm := r.tierLocked(tier)
	if tm.circuitState != CircuitOpen && state == CircuitOpen {
		tm.circuitOpens++
	}
	tm.circuitState = state
}

// RecordQueueDepth stores the async writer's current queue depth.
func (r *Registry) RecordQueueDepth(tier string, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tierLocked(tier).queueDepth = depth
}

// RecordWriteDropped counts an async write dropped at enqueue.
func (r *Registry) RecordWriteDropped(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tierLocked(tier).droppedWrites++
}

// RecordAsyncWrite records a completed async write.
func (r *Registry) RecordAsyncWrite(tier string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tm := r.tierLocked(tier)
	tm.asyncWrites++
	if !success {
		tm.asyncErrors++
	}
	tm.ring(opAsync, r.config.RingSize).add(duration)
}

// RecordOrchestratorGet records an end-to-end get outcome and feeds the
// rolling window.
func (r *Registry) RecordOrchestratorGet(hit bool, tierIndex int, totalDuration time.Duration) {
	nowSec := r.now().Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	if hit {
		r.orchHits++
		r.orchHitsByTier[tierIndex]++
	} else {
		r.orchMisses++
	}
	r.orchLatency.add(totalDuration)
	r.window.record(nowSec, hit, totalDuration)
}

// RecordKeyAccess counts a request against the key's hotness stats.
func (r *Registry) RecordKeyAccess(key string, hit bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	ks, ok := r.keys[key]
	if !ok {
		if len(r.keys) >= r.config.MaxTrackedKeys {
			r.pruneKeysLocked(now)
		}
		ks = &keyStats{}
		r.keys[key] = ks
	}
	ks.requests++
	if hit {
		ks.hits++
	}
	ks.lastAccess = now
}

// pruneKeysLocked drops the lowest-scored tenth of tracked keys so the scan
// cost is amortized over many admissions.
func (r *Registry) pruneKeysLocked(now time.Time) {
	type scored struct {
		key   string
		score float64
	}
	all := make([]scored, 0, len(r.keys))
	for key, ks := range r.keys {
		all = append(all, scored{key, ks.score(now, r.config.HalfLife)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score < all[j].score })

	drop := len(all) / 10
	if drop < 1 {
		drop = 1
	}
	for _, s := range all[:drop] {
		delete(r.keys, s.key)
	}
}

// KeyScore is one entry of a hotness ranking.
type KeyScore struct {
	Key        string    `json:"key"`
	Score      float64   `json:"score"`
	Requests   int64     `json:"requests"`
	HitRate    float64   `json:"hit_rate"`
	LastAccess time.Time `json:"last_access"`
}

// TopKeys returns up to n keys ranked by hotness, hottest first. Ties break
// by key so the order is stable.
func (r *Registry) TopKeys(n int) []KeyScore {
	now := r.now()

	r.mu.Lock()
	scores := make([]KeyScore, 0, len(r.keys))
	for key, ks := range r.keys {
		hitRate := 0.0
		if ks.requests > 0 {
			hitRate = float64(ks.hits) / float64(ks.requests)
		}
		scores = append(scores, KeyScore{
			Key:        key,
			Score:      ks.score(now, r.config.HalfLife),
			Requests:   ks.requests,
			HitRate:    hitRate,
			LastAccess: ks.lastAccess,
		})
	}
	r.mu.Unlock()

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Key < scores[j].Key
	})
	if n > 0 && len(scores) > n {
		scores = scores[:n]
	}
	return scores
}

// Rotate advances the rolling window to the current second. The maintenance
// scheduler calls it so the window drains even with no traffic; records
// advance it lazily as well.
func (r *Registry) Rotate() {
	nowSec := r.now().Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.window.advance(nowSec)
}

// Reset clears all collected metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tiers = make(map[string]*tierMetrics)
	r.keys = make(map[string]*keyStats)
	r.orchHits = 0
	r.orchMisses = 0
	r.orchHitsByTier = make(map[int]int64)
	r.orchLatency = newLatencyRing(r.config.RingSize)
	r.window = newRollingWindow(r.config.WindowSeconds)
}
