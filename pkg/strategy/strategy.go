// Package strategy is the placement decision engine: given a key and what is
// known about the value, it decides which tiers to read in what order, which
// tiers a write should land on, and how an invalidation should be executed.
// It is pure apart from its own hot-key counters, so the orchestrator owns
// all actual tier traffic.
package strategy

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

const maxTrackedHotKeys = 10000

// Recommendation TTLs and the cutoffs that select between them.
const (
	shortTTL    = time.Minute
	baseTTL     = 5 * time.Minute
	extendedTTL = 30 * time.Minute

	coldAge      = 24 * time.Hour
	coldReadRate = 0.1
)

// ReadOptions carries per-call hints the strategy can match tier conditions
// against. Zero values mean the hint is unknown and the matching bound is
// skipped.
type ReadOptions struct {
	// SizeHint is the expected value size in bytes.
	SizeHint int64

	// TTLHint is the expected entry TTL.
	TTLHint time.Duration
}

// WriteOptions carries per-call write routing inputs.
type WriteOptions struct {
	// TTL the entry will be stored with.
	TTL time.Duration

	// TierOverride, when non-empty, replaces the computed tier set entirely.
	TierOverride []string
}

// PlanMode says when an invalidation should be executed.
type PlanMode string

const (
	// Immediate executes the invalidation on every tier right away.
	Immediate PlanMode = "immediate"

	// Delayed batches the invalidation behind Plan.Delay.
	Delayed PlanMode = "delayed"

	// Lazy invalidates memory tiers now and leaves distributed tiers to
	// their TTL.
	Lazy PlanMode = "lazy"
)

// Plan is the outcome of invalidation planning.
type Plan struct {
	Mode  PlanMode
	Delay time.Duration
}

// AccessPattern summarizes how a key has been used, as input to placement
// tuning.
type AccessPattern struct {
	ReadsPerSec  float64
	WritesPerSec float64
	AvgSizeBytes int64
	Age          time.Duration
}

// Recommendation is the outcome of placement tuning.
type Recommendation struct {
	Tiers    []string
	TTL      time.Duration
	Compress bool
}

// tierRule is a configured tier with its key pattern pre-compiled.
type tierRule struct {
	TierWeight
	keyRE *regexp.Regexp
}

// Strategy decides tier routing. Safe for concurrent use.
type Strategy struct {
	config Config

	// rules holds the configured tiers sorted by weight, highest first,
	// ties keeping configuration order.
	rules []tierRule

	mu  sync.Mutex
	hot map[string]*hotWindow

	now func() time.Time
}

type hotWindow struct {
	count       int64
	windowStart time.Time
}

// New builds a Strategy from config, filling unset fields with defaults.
func New(config Config) (*Strategy, error) {
	defaults := DefaultConfig()
	if len(config.Tiers) == 0 {
		config.Tiers = defaults.Tiers
	}
	if config.Consistency == "" {
		config.Consistency = defaults.Consistency
	}
	if config.LargeValueBytes == 0 {
		config.LargeValueBytes = defaults.LargeValueBytes
	}
	if config.CompressionThreshold == 0 {
		config.CompressionThreshold = defaults.CompressionThreshold
	}
	if config.HotKey.Window == 0 {
		config.HotKey.Window = defaults.HotKey.Window
	}
	if config.HotKey.Threshold == 0 {
		config.HotKey.Threshold = defaults.HotKey.Threshold
	}
	if config.Invalidation.Mode == "" {
		config.Invalidation.Mode = defaults.Invalidation.Mode
	}
	if config.Invalidation.FlushInterval == 0 {
		config.Invalidation.FlushInterval = defaults.Invalidation.FlushInterval
	}
	if config.Invalidation.MinBatchWindow == 0 {
		config.Invalidation.MinBatchWindow = defaults.Invalidation.MinBatchWindow
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	rules := make([]tierRule, len(config.Tiers))
	for i, tw := range config.Tiers {
		rules[i] = tierRule{TierWeight: tw}
		if tw.Conditions != nil && tw.Conditions.KeyPattern != "" {
			re, err := cache.CompilePattern(tw.Conditions.KeyPattern)
			if err != nil {
				return nil, err
			}
			rules[i].keyRE = re
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Weight > rules[j].Weight
	})

	return &Strategy{
		config: config,
		rules:  rules,
		hot:    make(map[string]*hotWindow),
		now:    time.Now,
	}, nil
}

// Config returns the effective configuration after defaulting.
func (s *Strategy) Config() Config {
	return s.config
}

// matches reports whether rule accepts the key given the caller's hints and
// the key's observed request rate.
func (r *tierRule) matches(key string, size int64, ttl time.Duration, rate float64) bool {
	c := r.Conditions
	if c == nil {
		return true
	}
	if r.keyRE != nil && !r.keyRE.MatchString(key) {
		return false
	}
	if size > 0 {
		if c.MinSize > 0 && size < c.MinSize {
			return false
		}
		if c.MaxSize > 0 && size > c.MaxSize {
			return false
		}
	}
	if ttl > 0 {
		if c.MinTTL > 0 && ttl < c.MinTTL {
			return false
		}
		if c.MaxTTL > 0 && ttl > c.MaxTTL {
			return false
		}
	}
	if c.MinRate > 0 && rate < c.MinRate {
		return false
	}
	if c.MaxRate > 0 && rate > c.MaxRate {
		return false
	}
	return true
}

// ReadOrder returns tier names in the order a read should try them. Tiers
// whose conditions reject the key are filtered out; if that leaves nothing,
// the full weighted order is used so a read always has a path. A hot key
// moves the best memory tier to the front regardless of weight.
func (s *Strategy) ReadOrder(key string, opts ReadOptions) []string {
	rate := s.observedRate(key)

	eligible := make([]tierRule, 0, len(s.rules))
	for i := range s.rules {
		if s.rules[i].matches(key, opts.SizeHint, opts.TTLHint, rate) {
			eligible = append(eligible, s.rules[i])
		}
	}
	if len(eligible) == 0 {
		eligible = s.rules
	}

	names := make([]string, len(eligible))
	for i := range eligible {
		names[i] = eligible[i].Name
	}

	if rate >= s.config.HotKey.Threshold {
		for i := range eligible {
			if eligible[i].Kind != cache.KindMemory {
				continue
			}
			if i > 0 {
				name := names[i]
				copy(names[1:i+1], names[:i])
				names[0] = name
			}
			break
		}
	}
	return names
}

// WriteTiers returns the tier names a write should land on. An explicit
// override in opts replaces the computed set entirely.
func (s *Strategy) WriteTiers(key string, sizeBytes int64, opts WriteOptions) []string {
	return s.WriteTiersWith(s.config.Consistency, key, sizeBytes, opts)
}

// WriteTiersWith is WriteTiers under an explicit consistency level, for
// callers overriding the configured one per write.
func (s *Strategy) WriteTiersWith(level Consistency, key string, sizeBytes int64, opts WriteOptions) []string {
	if len(opts.TierOverride) > 0 {
		out := make([]string, len(opts.TierOverride))
		copy(out, opts.TierOverride)
		return out
	}

	large := sizeBytes >= s.config.LargeValueBytes

	switch level {
	case Strong:
		return s.allNames()

	case Weak:
		kind := cache.KindMemory
		if large {
			kind = cache.KindDistributed
		}
		if name, ok := s.bestOfKind(kind); ok {
			return []string{name}
		}
		return []string{s.rules[0].Name}

	default: // Eventual
		if large {
			return s.namesOfKind(cache.KindDistributed)
		}
		if s.IsHotKey(key) {
			return s.allNames()
		}
		return s.namesOfKind(cache.KindDistributed)
	}
}

func (s *Strategy) allNames() []string {
	names := make([]string, len(s.rules))
	for i := range s.rules {
		names[i] = s.rules[i].Name
	}
	return names
}

// namesOfKind returns the tiers of kind in weight order, or every tier when
// none of that kind is configured (a memory-only deployment still needs its
// writes to land somewhere).
func (s *Strategy) namesOfKind(kind cache.Kind) []string {
	var names []string
	for i := range s.rules {
		if s.rules[i].Kind == kind {
			names = append(names, s.rules[i].Name)
		}
	}
	if len(names) == 0 {
		return s.allNames()
	}
	return names
}

func (s *Strategy) bestOfKind(kind cache.Kind) (string, bool) {
	for i := range s.rules {
		if s.rules[i].Kind == kind {
			return s.rules[i].Name, true
		}
	}
	return "", false
}

// RecordAccess counts a request against the key's hot window. The window
// restarts once its duration has fully elapsed.
func (s *Strategy) RecordAccess(key string) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.hot[key]
	if !ok {
		if len(s.hot) >= maxTrackedHotKeys {
			s.pruneLocked(now)
		}
		s.hot[key] = &hotWindow{count: 1, windowStart: now}
		return
	}

	if now.Sub(w.windowStart) >= s.config.HotKey.Window {
		w.count = 1
		w.windowStart = now
		return
	}
	w.count++
}

// pruneLocked drops windows that have fully elapsed; if none have, it drops
// the lowest-count window so a new key can always be tracked.
func (s *Strategy) pruneLocked(now time.Time) {
	var coldest string
	var coldestCount int64 = -1

	for key, w := range s.hot {
		if now.Sub(w.windowStart) >= s.config.HotKey.Window {
			delete(s.hot, key)
			continue
		}
		if coldestCount == -1 || w.count < coldestCount {
			coldest = key
			coldestCount = w.count
		}
	}

	if len(s.hot) >= maxTrackedHotKeys && coldest != "" {
		delete(s.hot, coldest)
	}
}

// observedRate returns the key's request rate in req/s within its current
// window, or 0 when the key is untracked or its window has elapsed.
func (s *Strategy) observedRate(key string) float64 {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.hot[key]
	if !ok {
		return 0
	}

	elapsed := now.Sub(w.windowStart)
	if elapsed >= s.config.HotKey.Window {
		delete(s.hot, key)
		return 0
	}

	sec := elapsed.Seconds()
	if sec < 1 {
		sec = 1
	}
	return float64(w.count) / sec
}

// IsHotKey reports whether the key's observed rate meets the configured
// threshold.
func (s *Strategy) IsHotKey(key string) bool {
	return s.observedRate(key) >= s.config.HotKey.Threshold
}

// InvalidationPlan decides how an invalidation should run. Hot keys force
// immediate execution; multi-tag and pattern invalidations are batched with
// at least the configured minimum window, and that damping is applied last
// so invalidation storms coalesce even for hot keys. Lazy plans are exempt:
// they never touch the distributed tiers, so there is no storm to dampen.
func (s *Strategy) InvalidationPlan(key string, tags []string, pattern string) Plan {
	var plan Plan
	switch s.config.Invalidation.Mode {
	case WriteBehind:
		plan = Plan{Mode: Delayed, Delay: s.config.Invalidation.FlushInterval}
	case WriteAround:
		plan = Plan{Mode: Lazy}
	default:
		plan = Plan{Mode: Immediate}
	}

	if key != "" && s.IsHotKey(key) {
		plan = Plan{Mode: Immediate}
	}

	if (len(tags) >= 2 || pattern != "") && plan.Mode != Lazy {
		delay := plan.Delay
		if delay < s.config.Invalidation.MinBatchWindow {
			delay = s.config.Invalidation.MinBatchWindow
		}
		plan = Plan{Mode: Delayed, Delay: delay}
	}
	return plan
}

// OptimizePlacement recommends tiers, TTL, and compression for a key given
// its access pattern. Used by background warming, not the request path.
func (s *Strategy) OptimizePlacement(p AccessPattern) Recommendation {
	rec := Recommendation{
		Tiers: s.namesOfKind(cache.KindDistributed),
		TTL:   baseTTL,
	}

	switch {
	case p.Age > coldAge && p.ReadsPerSec < coldReadRate:
		// Old and idle: keep it out of memory and let it expire soon.
		rec.TTL = shortTTL

	case p.WritesPerSec > p.ReadsPerSec:
		// Write-heavy: memory copies would churn, and a long TTL only
		// preserves values that are about to be overwritten.
		rec.TTL = shortTTL

	case p.ReadsPerSec > 0 && p.ReadsPerSec >= 2*p.WritesPerSec &&
		p.AvgSizeBytes < s.config.LargeValueBytes:
		// Read-heavy and small enough for memory.
		rec.Tiers = s.allNames()
		rec.TTL = extendedTTL
	}

	if p.AvgSizeBytes >= s.config.CompressionThreshold {
		rec.Compress = true
	}
	return rec
}
