package prometheus

import (
	"strconv"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.Collector on Prometheus vectors.
type PrometheusCollector struct {
	namespace string

	// Counters
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSets      *prometheus.CounterVec
	cacheDeletes   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheErrors    *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Async writer
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec

	// Histograms
	getLatency    *prometheus.HistogramVec
	setLatency    *prometheus.HistogramVec
	deleteLatency *prometheus.HistogramVec
	asyncLatency  *prometheus.HistogramVec

	// Orchestrator-level
	orchestratorHits    *prometheus.CounterVec
	orchestratorMisses  prometheus.Counter
	orchestratorLatency *prometheus.HistogramVec
}

// NewPrometheusCollector creates a Prometheus metrics collector. All metric
// names are prefixed with the given namespace.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	pc := &PrometheusCollector{
		namespace: namespace,
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits per tier",
			},
			[]string{"tier"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses per tier",
			},
			[]string{"tier"},
		),
		cacheSets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_sets_total",
				Help:      "Total number of cache set operations per tier",
			},
			[]string{"tier"},
		),
		cacheDeletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_deletes_total",
				Help:      "Total number of cache delete operations per tier",
			},
			[]string{"tier"},
		),
		cacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of evictions per tier and reason",
			},
			[]string{"tier", "reason"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of cache errors per tier and class",
			},
			[]string{"tier", "class"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per tier",
			},
			[]string{"tier"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per tier (0=closed, 1=open, 2=half-open)",
			},
			[]string{"tier"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current async writer queue depth per tier",
			},
			[]string{"tier"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_writes_total",
				Help:      "Total number of dropped async writes per tier",
			},
			[]string{"tier"},
		),
		asyncWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "async_writes_total",
				Help:      "Total number of async writes per tier and status",
			},
			[]string{"tier", "status"},
		),
		getLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "get_duration_seconds",
				Help:      "Cache get operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to ~3s
			},
			[]string{"tier"},
		),
		setLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "set_duration_seconds",
				Help:      "Cache set operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"tier"},
		),
		deleteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delete_duration_seconds",
				Help:      "Cache delete operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"tier"},
		),
		asyncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "async_write_duration_seconds",
				Help:      "Async write operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"tier"},
		),
		orchestratorHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orchestrator_hits_total",
				Help:      "Total number of orchestrated cache hits per serving tier index",
			},
			[]string{"tier_index"},
		),
		orchestratorMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orchestrator_misses_total",
				Help:      "Total number of orchestrated cache misses",
			},
		),
		orchestratorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "orchestrator_get_duration_seconds",
				Help:      "Orchestrated get total latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"hit"},
		),
	}

	return pc
}

// Register registers all metrics with the given registerer.
func (pc *PrometheusCollector) Register(registerer prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.cacheHits,
		pc.cacheMisses,
		pc.cacheSets,
		pc.cacheDeletes,
		pc.cacheEvictions,
		pc.cacheErrors,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.getLatency,
		pc.setLatency,
		pc.deleteLatency,
		pc.asyncLatency,
		pc.orchestratorHits,
		pc.orchestratorMisses,
		pc.orchestratorLatency,
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordGet records a cache get operation.
func (pc *PrometheusCollector) RecordGet(tier string, hit bool, duration time.Duration) {
	if hit {
		pc.cacheHits.WithLabelValues(tier).Inc()
	} else {
		pc.cacheMisses.WithLabelValues(tier).Inc()
	}
	pc.getLatency.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordSet records a cache set operation.
func (pc *PrometheusCollector) RecordSet(tier string, success bool, duration time.Duration) {
	pc.cacheSets.WithLabelValues(tier).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(tier, "set").Inc()
	}
	pc.setLatency.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordDelete records a cache delete operation.
func (pc *PrometheusCollector) RecordDelete(tier string, success bool, duration time.Duration) {
	pc.cacheDeletes.WithLabelValues(tier).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(tier, "delete").Inc()
	}
	pc.deleteLatency.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordEviction records an entry eviction.
func (pc *PrometheusCollector) RecordEviction(tier string, reason string) {
	pc.cacheEvictions.WithLabelValues(tier, reason).Inc()
}

// RecordError records a classified cache error.
func (pc *PrometheusCollector) RecordError(tier string, class string) {
	pc.cacheErrors.WithLabelValues(tier, class).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(tier string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(tier).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(tier).Inc()
	}
}

// RecordQueueDepth records the current async writer queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(tier string, depth int) {
	pc.queueDepth.WithLabelValues(tier).Set(float64(depth))
}

// RecordWriteDropped records a dropped async write.
func (pc *PrometheusCollector) RecordWriteDropped(tier string) {
	pc.droppedWrites.WithLabelValues(tier).Inc()
}

// RecordAsyncWrite records an async write operation.
func (pc *PrometheusCollector) RecordAsyncWrite(tier string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.asyncWrites.WithLabelValues(tier, status).Inc()
	pc.asyncLatency.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordOrchestratorGet records an end-to-end get outcome. The serving tier
// index is only labeled on hits.
func (pc *PrometheusCollector) RecordOrchestratorGet(hit bool, tierIndex int, totalDuration time.Duration) {
	hitLabel := "false"
	if hit {
		pc.orchestratorHits.WithLabelValues(strconv.Itoa(tierIndex)).Inc()
		hitLabel = "true"
	} else {
		pc.orchestratorMisses.Inc()
	}
	pc.orchestratorLatency.WithLabelValues(hitLabel).Observe(totalDuration.Seconds())
}
