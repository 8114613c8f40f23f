package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Tier defines the interface every cache tier implementation must satisfy.
// It provides basic cache operations with context support for cancellation
// and timeouts. Extended capabilities (batching, tagging, pattern deletes,
// metadata reads) are expressed as optional interfaces below so that callers
// can feature-detect with a type assertion.
type Tier interface {
	// Get retrieves a value from the tier by key.
	// Returns the value and nil error if found, ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in the tier with the specified key and time-to-live.
	// A ttl <= 0 stores the entry without expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the tier by key.
	// Returns nil if the key was deleted or didn't exist, error if the operation failed.
	Delete(ctx context.Context, key string) error

	// Name returns the identifier for this tier (e.g. "memory", "redis").
	// Used for logging, metrics, and placement decisions.
	Name() string

	// Close releases any resources held by the tier.
	Close() error
}

// PatternTier is implemented by tiers that can bulk-remove keys matching a
// glob pattern ('*' any run, '?' single character). DeletePattern returns the
// number of keys removed.
type PatternTier interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// MetadataTier is implemented by tiers that can return an entry together with
// its metadata. The bool result reports staleness: the entry is still valid
// but more than 80% of its TTL has passed since it was last accessed.
type MetadataTier interface {
	GetWithMetadata(ctx context.Context, key string) (*Entry, bool, error)
}

// TaggedTier is implemented by tiers that maintain a key<->tag index for bulk
// invalidation. InvalidateTag removes every key carrying the tag and returns
// the removed keys so callers can purge other tiers.
type TaggedTier interface {
	SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error
	AssociateTags(ctx context.Context, key string, tags []string) error
	InvalidateTag(ctx context.Context, tag string) ([]string, error)
}

// Sweeper is implemented by tiers with a proactive expiry sweep. Cleanup
// removes expired entries (or prunes derived indexes) and returns how many
// items it dropped.
type Sweeper interface {
	Cleanup(ctx context.Context) (int, error)
}

// Toucher is implemented by tiers that can bump a key's access metadata
// (last-accessed timestamp, access count) without transferring the value.
type Toucher interface {
	Touch(ctx context.Context, key string) error
}

// Kind identifies which class of tier owns an entry.
type Kind string

const (
	// KindMemory marks entries owned by an in-process memory tier.
	KindMemory Kind = "memory"

	// KindDistributed marks entries owned by the distributed tier.
	KindDistributed Kind = "distributed"
)

// NoExpiration can be passed as a TTL to request an entry that never expires,
// bypassing any configured default TTL.
const NoExpiration time.Duration = -1

// Metadata carries the per-entry bookkeeping each tier maintains for its own
// copy of a value.
type Metadata struct {
	// CreatedAt is when the owning tier stored this entry.
	CreatedAt time.Time

	// LastAccessed is the last read (or write) touching this entry.
	LastAccessed time.Time

	// AccessCount counts reads of this entry in its owning tier.
	AccessCount int64

	// TTL is the entry's time-to-live; 0 means the entry never expires.
	TTL time.Duration

	// Size is the entry's estimated size in bytes.
	Size int64

	// Tags are the invalidation tags associated with this entry.
	Tags []string

	// Version is reserved for future schema evolution of stored payloads.
	Version int

	// Compressed records whether the stored payload is compressed, for
	// downstream interpretation; tiers store what they are given.
	Compressed bool

	// Tier is the kind of tier that owns this copy.
	Tier Kind
}

// Expired reports whether the entry has expired at the given instant.
// An entry is expired iff TTL > 0 and now >= CreatedAt + TTL.
func (m *Metadata) Expired(now time.Time) bool {
	return m.TTL > 0 && !now.Before(m.CreatedAt.Add(m.TTL))
}

// Stale reports whether the entry is approaching expiry: still valid, but
// more than 80% of its TTL has elapsed since the last access. Entries without
// a TTL are never stale.
func (m *Metadata) Stale(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.LastAccessed) > m.TTL/5*4
}

// Remaining returns the time left until expiry, or 0 for entries without a
// TTL (and for entries already expired).
func (m *Metadata) Remaining(now time.Time) time.Duration {
	if m.TTL <= 0 {
		return 0
	}
	rem := m.CreatedAt.Add(m.TTL).Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// Entry is a cached value together with its metadata. Entries are owned
// exclusively by the tier that stores them and are never shared by reference
// across tiers; each tier holds its own copy.
type Entry struct {
	Key      string
	Value    interface{}
	Metadata Metadata
}

// EstimateSize returns the estimated in-memory footprint of a value in bytes.
// Byte slices and strings are exact; scalars use their machine width;
// everything else falls back to its JSON-encoded length.
func EstimateSize(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	case bool, int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	case int, int64, uint, uint64, float64, uintptr:
		return 8
	case time.Time:
		return 24
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fallbackSizeEstimate
		}
		return int64(len(data))
	}
}

// fallbackSizeEstimate is charged for values that cannot be measured.
const fallbackSizeEstimate = 64
