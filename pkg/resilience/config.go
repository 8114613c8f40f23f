package resilience

import (
	"time"
)

// Config configures the resilient tier wrapper.
type Config struct {
	// Timeout bounds every wrapped operation. Zero disables the
	// per-operation deadline. Default: 1s
	Timeout time.Duration

	// FailureThreshold is the consecutive-failure count that opens the
	// circuit when ReadyToTrip is nil. Default: 5
	FailureThreshold uint32

	// RecoveryTimeout is how long the circuit stays open before letting
	// probe requests through. Default: 30s
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the number of probe requests allowed while
	// half-open. Default: 1
	HalfOpenMaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// breaker clears its counts. Zero never clears. Default: 0
	Interval time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request
	// fails, and opens the circuit when it returns true. If nil, the
	// FailureThreshold rule applies.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes and failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultConfig returns the default resilience settings.
func DefaultConfig() Config {
	return Config{
		Timeout:             time.Second,
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// WithTimeout returns a copy of the config with the specified operation
// timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithFailureThreshold returns a copy of the config with the specified
// consecutive-failure threshold.
func (c Config) WithFailureThreshold(threshold uint32) Config {
	c.FailureThreshold = threshold
	return c
}

// WithRecoveryTimeout returns a copy of the config with the specified open
// state duration.
func (c Config) WithRecoveryTimeout(timeout time.Duration) Config {
	c.RecoveryTimeout = timeout
	return c
}
