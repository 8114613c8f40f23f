package metrics

import (
	"encoding/json"
	"time"
)

// Collector defines the interface for recording cache metrics.
// Implementations can export metrics to various backends (Prometheus, StatsD, etc.).
type Collector interface {
	// Tier operations
	RecordGet(tier string, hit bool, duration time.Duration)
	RecordSet(tier string, success bool, duration time.Duration)
	RecordDelete(tier string, success bool, duration time.Duration)
	RecordEviction(tier string, reason string)
	RecordError(tier string, class string)

	// Circuit breaker
	RecordCircuitState(tier string, state CircuitState)

	// Async writer
	RecordQueueDepth(tier string, depth int)
	RecordWriteDropped(tier string)
	RecordAsyncWrite(tier string, success bool, duration time.Duration)

	// Orchestrator-level
	RecordOrchestratorGet(hit bool, tierIndex int, totalDuration time.Duration)
}

// Eviction reasons reported through RecordEviction.
const (
	EvictionExpired  = "expired"
	EvictionCapacity = "capacity"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its string form.
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordGet does nothing.
func (NoOpCollector) RecordGet(tier string, hit bool, duration time.Duration) {}

// RecordSet does nothing.
func (NoOpCollector) RecordSet(tier string, success bool, duration time.Duration) {}

// RecordDelete does nothing.
func (NoOpCollector) RecordDelete(tier string, success bool, duration time.Duration) {}

// RecordEviction does nothing.
func (NoOpCollector) RecordEviction(tier string, reason string) {}

// RecordError does nothing.
func (NoOpCollector) RecordError(tier string, class string) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(tier string, state CircuitState) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(tier string, depth int) {}

// RecordWriteDropped does nothing.
func (NoOpCollector) RecordWriteDropped(tier string) {}

// RecordAsyncWrite does nothing.
func (NoOpCollector) RecordAsyncWrite(tier string, success bool, duration time.Duration) {}

// RecordOrchestratorGet does nothing.
func (NoOpCollector) RecordOrchestratorGet(hit bool, tierIndex int, totalDuration time.Duration) {}
