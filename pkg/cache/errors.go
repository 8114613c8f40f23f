package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Common cache operation errors.
// These are the standard errors that tier implementations should return.
var (
	// ErrKeyNotFound is returned when a requested key does not exist in the cache
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrCacheMiss is an alias for ErrKeyNotFound, commonly used in cache implementations
	ErrCacheMiss = ErrKeyNotFound

	// ErrInvalidKey is returned when a cache key is invalid (empty, too long, contains invalid characters)
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a cache value is invalid or cannot be stored
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrInvalidPattern is returned when an invalidation pattern is malformed
	ErrInvalidPattern = errors.New("cache: invalid pattern")

	// ErrTierUnavailable is returned when a cache tier is temporarily unavailable
	ErrTierUnavailable = errors.New("cache: tier unavailable")

	// ErrTierClosed is returned when an operation reaches a tier after Close
	ErrTierClosed = errors.New("cache: tier closed")

	// ErrTimeout is returned when a cache operation times out
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("cache: circuit breaker open")
)

// ConnectionError indicates the tier's backend was unreachable or the
// transport failed mid-operation. Connection errors count toward circuit
// breaking; the orchestrator skips the tier until it recovers.
type ConnectionError struct {
	Tier string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache: tier %s %s: connection failure: %v", e.Tier, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps a transport failure with the tier and operation
// that observed it.
func NewConnectionError(tier, op string, err error) *ConnectionError {
	return &ConnectionError{Tier: tier, Op: op, Err: err}
}

// SerializationError indicates a value could not be encoded, or a stored
// payload could not be decoded. Readers treat it as a miss for that key.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cache: %s: serialization failure: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// CompressionError indicates a payload could not be compressed or
// decompressed (corrupt data, unknown algorithm tag). Readers treat it as a
// miss for that key.
type CompressionError struct {
	Op  string
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("cache: %s: compression failure: %v", e.Op, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// ValidationError indicates a caller-supplied input (key, pattern, tag) was
// malformed. It is surfaced synchronously since it signals a programming
// error, not a transient infrastructure failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cache: invalid %s: %s", e.Field, e.Reason)
}

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout checks if the given error indicates a timeout occurred.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable checks if the given error indicates a tier is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrTierUnavailable)
}

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsConnectionError checks if the given error is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsSerializationError checks if the given error is (or wraps) a SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// IsCompressionError checks if the given error is (or wraps) a CompressionError.
func IsCompressionError(err error) bool {
	var ce *CompressionError
	return errors.As(err, &ce)
}

// IsValidationError checks if the given error is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CountsAsFailure reports whether an error should feed a tier's circuit
// breaker. Misses and caller mistakes are normal traffic; corrupt payloads
// are per-key damage. Only infrastructure failures (connection loss,
// timeouts, unknown errors) indicate an unhealthy tier.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case IsNotFound(err),
		IsValidationError(err),
		IsSerializationError(err),
		IsCompressionError(err),
		errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrInvalidPattern):
		return false
	}
	return true
}

// ClassifyError returns a string classification of the error type for metrics.
// This helps differentiate error types in observability dashboards.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case IsConnectionError(err):
		return "connection"
	case IsSerializationError(err):
		return "serialization"
	case IsCompressionError(err):
		return "compression"
	case IsValidationError(err):
		return "validation"
	case errors.Is(err, ErrTierUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTierClosed):
		return "closed"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrInvalidPattern):
		return "invalid_pattern"
	default:
		// Fall back to common error message patterns.
		msg := strings.ToLower(err.Error())
		switch {
		case containsAny(msg, "connection", "connect", "dial", "broken pipe", "reset by peer"):
			return "connection"
		case containsAny(msg, "serialize", "marshal", "unmarshal", "encode", "decode"):
			return "serialization"
		case containsAny(msg, "redis", "memcache"):
			return "backend"
		default:
			return "other"
		}
	}
}

// containsAny checks if the string contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// WrapError wraps an error with additional context about the cache operation.
// This is useful for adding tier-specific information to errors.
func WrapError(err error, tier string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache tier %s %s: %w", tier, operation, err)
}
