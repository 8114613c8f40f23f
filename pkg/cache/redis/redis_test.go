package redis

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/codec"
)

func skipIfNoRedis(t *testing.T, r *RedisTier) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
}

func setupTestRedis(t *testing.T) *RedisTier {
	config := DefaultRedisTierConfig()
	config.Name = "test-redis"
	config.KeyPrefix = "test:cache:"
	config.TagPrefix = "test:cache:tag:"

	r, err := NewRedisTier(config)
	if err != nil {
		t.Skipf("Failed to create Redis client: %v", err)
	}

	skipIfNoRedis(t, r)

	ctx := context.Background()
	r.FlushDB(ctx)

	return r
}

func TestNewRedisTier(t *testing.T) {
	config := DefaultRedisTierConfig()
	config.Name = "test-redis"

	r, err := NewRedisTier(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer r.Close()

	if r.Name() != "test-redis" {
		t.Errorf("Name = %q, want test-redis", r.Name())
	}

	skipIfNoRedis(t, r)
}

func TestRedisTier_SetGet(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.Set(ctx, "key1", "value1", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := r.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "value1" {
		t.Errorf("Get = %v, want value1", val)
	}
}

func TestRedisTier_GetMiss(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	_, err := r.Get(context.Background(), "nonexistent")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Get missing key error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisTier_Delete(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	r.Set(ctx, "key1", "value1", time.Minute)

	if err := r.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := r.Get(ctx, "key1"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Get after delete error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisTier_TTL(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	r.Set(ctx, "bounded", "v", time.Minute)
	ttl, err := r.TTL(ctx, "bounded")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want (0, 1m]", ttl)
	}

	// ttl <= 0 stores without expiration
	r.Set(ctx, "forever", "v", 0)
	ttl, err = r.TTL(ctx, "forever")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL of persistent key = %v, want -1", ttl)
	}

	// Overwriting a bounded key without a TTL must clear the old expiry.
	r.Set(ctx, "bounded", "v2", 0)
	ttl, err = r.TTL(ctx, "bounded")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL after persist overwrite = %v, want -1", ttl)
	}

	if _, err := r.TTL(ctx, "missing"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("TTL of missing key error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisTier_GetWithMetadata(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := r.Set(ctx, "key1", "value1", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	e, stale, err := r.GetWithMetadata(ctx, "key1")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	if stale {
		t.Error("fresh entry reported stale")
	}
	if e.Value != "value1" {
		t.Errorf("Value = %v, want value1", e.Value)
	}
	if e.Metadata.Tier != cache.KindDistributed {
		t.Errorf("Tier = %q, want %q", e.Metadata.Tier, cache.KindDistributed)
	}
	if e.Metadata.TTL != time.Minute {
		t.Errorf("TTL = %v, want 1m", e.Metadata.TTL)
	}
	if e.Metadata.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, too old", e.Metadata.CreatedAt)
	}
	if e.Metadata.Size == 0 {
		t.Error("Size should reflect the stored payload")
	}
	if e.Metadata.Version != 1 {
		t.Errorf("Version = %d, want 1", e.Metadata.Version)
	}

	// Overwrites bump the version.
	if err := r.Set(ctx, "key1", "value2", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	e, _, err = r.GetWithMetadata(ctx, "key1")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	if e.Metadata.Version != 2 {
		t.Errorf("Version after overwrite = %d, want 2", e.Metadata.Version)
	}
}

func TestRedisTier_Staleness(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.Set(ctx, "idle", "v", 10*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Pretend 9 of the 10 seconds have passed since the write.
	r.now = func() time.Time { return time.Now().Add(9 * time.Second) }

	_, stale, err := r.GetWithMetadata(ctx, "idle")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	if !stale {
		t.Error("entry idle past 80% of its TTL should be stale")
	}
}

func TestRedisTier_Touch(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.Set(ctx, "key1", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := r.Touch(ctx, "key1"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	e, _, err := r.GetWithMetadata(ctx, "key1")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	if e.Metadata.AccessCount < 1 {
		t.Errorf("AccessCount = %d, want >= 1", e.Metadata.AccessCount)
	}

	// Touching a missing key must not create one.
	if err := r.Touch(ctx, "ghost"); err != nil {
		t.Fatalf("Touch of missing key failed: %v", err)
	}
	if _, err := r.Get(ctx, "ghost"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Error("Touch resurrected a missing key")
	}
}

func TestRedisTier_Tags(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.SetWithTags(ctx, "user:1", "alice", time.Minute, []string{"users", "premium"}); err != nil {
		t.Fatalf("SetWithTags failed: %v", err)
	}
	if err := r.SetWithTags(ctx, "user:2", "bob", time.Minute, []string{"users"}); err != nil {
		t.Fatalf("SetWithTags failed: %v", err)
	}
	if err := r.Set(ctx, "session:1", "s", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	tags, err := r.Tags(ctx, "user:1")
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if len(tags) != 2 || tags[0] != "users" || tags[1] != "premium" {
		t.Errorf("Tags = %v, want [users premium]", tags)
	}

	removed, err := r.InvalidateTag(ctx, "users")
	if err != nil {
		t.Fatalf("InvalidateTag failed: %v", err)
	}
	sort.Strings(removed)
	if len(removed) != 2 || removed[0] != "user:1" || removed[1] != "user:2" {
		t.Errorf("InvalidateTag removed %v, want [user:1 user:2]", removed)
	}

	if _, err := r.Get(ctx, "user:1"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Error("user:1 should be gone after tag invalidation")
	}
	if _, err := r.Get(ctx, "session:1"); err != nil {
		t.Errorf("session:1 should survive: %v", err)
	}

	// The tag set itself is gone too.
	removed, err = r.InvalidateTag(ctx, "users")
	if err != nil {
		t.Fatalf("second InvalidateTag failed: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("second InvalidateTag removed %v, want none", removed)
	}
}

func TestRedisTier_AssociateTags(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.SetWithTags(ctx, "doc:1", "v", time.Minute, []string{"docs"}); err != nil {
		t.Fatalf("SetWithTags failed: %v", err)
	}
	if err := r.AssociateTags(ctx, "doc:1", []string{"drafts"}); err != nil {
		t.Fatalf("AssociateTags failed: %v", err)
	}

	tags, err := r.Tags(ctx, "doc:1")
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("Tags = %v, want both docs and drafts", tags)
	}

	removed, err := r.InvalidateTag(ctx, "drafts")
	if err != nil {
		t.Fatalf("InvalidateTag failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "doc:1" {
		t.Errorf("InvalidateTag removed %v, want [doc:1]", removed)
	}

	if err := r.AssociateTags(ctx, "missing", []string{"x"}); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("AssociateTags on missing key error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisTier_DeletePattern(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "user:30", "session:1"} {
		if err := r.Set(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	count, err := r.DeletePattern(ctx, "user:*")
	if err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}
	if count != 3 {
		t.Errorf("DeletePattern removed %d keys, want 3", count)
	}
	if _, err := r.Get(ctx, "session:1"); err != nil {
		t.Errorf("session:1 should survive: %v", err)
	}

	if _, err := r.DeletePattern(ctx, ""); !cache.IsValidationError(err) {
		t.Errorf("empty pattern error = %v, want ValidationError", err)
	}
}

func TestRedisTier_Batch(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	items := map[string]interface{}{"k1": "v1", "k2": "v2", "k3": "v3"}
	if err := r.MSet(ctx, items, time.Minute); err != nil {
		t.Fatalf("MSet failed: %v", err)
	}

	got, err := r.MGet(ctx, []string{"k1", "k2", "k3", "missing"})
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("MGet returned %d values, want 3", len(got))
	}
	for k, want := range items {
		if got[k] != want {
			t.Errorf("MGet[%s] = %v, want %v", k, got[k], want)
		}
	}

	if err := r.MDelete(ctx, []string{"k1", "k2"}); err != nil {
		t.Fatalf("MDelete failed: %v", err)
	}
	got, err = r.MGet(ctx, []string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	if len(got) != 1 || got["k3"] != "v3" {
		t.Errorf("MGet after MDelete = %v, want only k3", got)
	}
}

func TestRedisTier_Compression(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	big := strings.Repeat("session payload ", 500)
	if err := r.Set(ctx, "big", big, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	e, _, err := r.GetWithMetadata(ctx, "big")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	if !e.Metadata.Compressed {
		t.Error("payload above the threshold should be stored compressed")
	}
	if e.Value != big {
		t.Error("compressed roundtrip mismatch")
	}
	if e.Metadata.Size >= int64(len(big)) {
		t.Errorf("stored size %d >= raw size %d", e.Metadata.Size, len(big))
	}

	// Small values stay raw.
	if err := r.Set(ctx, "small", "tiny", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	e, _, err = r.GetWithMetadata(ctx, "small")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	if e.Metadata.Compressed {
		t.Error("payload below the threshold should be stored raw")
	}
}

func TestRedisTier_Cleanup(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.SetWithTags(ctx, "doomed", "v", time.Minute, []string{"batch"}); err != nil {
		t.Fatalf("SetWithTags failed: %v", err)
	}
	if err := r.SetWithTags(ctx, "kept", "v", time.Minute, []string{"batch"}); err != nil {
		t.Fatalf("SetWithTags failed: %v", err)
	}

	// Delete one key directly, leaving a dead reference in the tag set.
	if err := r.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	pruned, err := r.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Cleanup pruned %d references, want 1", pruned)
	}

	removed, err := r.InvalidateTag(ctx, "batch")
	if err != nil {
		t.Fatalf("InvalidateTag failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "kept" {
		t.Errorf("InvalidateTag after cleanup removed %v, want [kept]", removed)
	}
}

func TestRedisTier_Exists(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	r.Set(ctx, "key1", "v", time.Minute)

	ok, err := r.Exists(ctx, "key1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("Exists = false for present key")
	}

	ok, err = r.Exists(ctx, "missing")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Exists = true for missing key")
	}
}

func TestDefaultRedisTierConfig(t *testing.T) {
	config := DefaultRedisTierConfig()

	if config.Name != "redis" {
		t.Errorf("Name = %q, want redis", config.Name)
	}
	if config.Addr != "localhost:6379" {
		t.Errorf("Addr = %q, want localhost:6379", config.Addr)
	}
	if config.KeyPrefix != "cache:" {
		t.Errorf("KeyPrefix = %q, want cache:", config.KeyPrefix)
	}
	if config.PartitionGroups != 8 {
		t.Errorf("PartitionGroups = %d, want 8", config.PartitionGroups)
	}
	if config.Serializer != "json" || config.Compressor != "gzip" {
		t.Errorf("codec defaults = %s/%s, want json/gzip", config.Serializer, config.Compressor)
	}
}

// The tests below exercise pure helpers and need no server.

func TestPartition(t *testing.T) {
	tier := &RedisTier{config: RedisTierConfig{PartitionGroups: 4}}

	keys := make([]string, 100)
	for i := range keys {
		keys[i] = "key" + strings.Repeat("x", i%7) + string(rune('a'+i%26))
	}

	groups := tier.partition(keys)
	if len(groups) > 4 {
		t.Errorf("partition produced %d groups, want <= 4", len(groups))
	}

	// Every key appears in exactly one group.
	seen := make(map[string]int)
	for _, group := range groups {
		for _, k := range group {
			seen[k]++
		}
	}
	for _, k := range keys {
		if seen[k] != 1 {
			t.Errorf("key %q appears %d times across groups, want 1", k, seen[k])
		}
	}

	// Grouping is deterministic.
	again := tier.partition(keys)
	if len(again) != len(groups) {
		t.Errorf("partition is not deterministic: %d groups then %d", len(groups), len(again))
	}
	for i := range groups {
		if strings.Join(groups[i], ",") != strings.Join(again[i], ",") {
			t.Errorf("group %d differs between runs", i)
		}
	}

	// A single group keeps the original order.
	single := &RedisTier{config: RedisTierConfig{PartitionGroups: 1}}
	groups = single.partition(keys)
	if len(groups) != 1 || len(groups[0]) != len(keys) {
		t.Errorf("single-group partition = %d groups", len(groups))
	}
}

func TestDecodeEntry(t *testing.T) {
	tier := &RedisTier{
		name:     "redis",
		config:   DefaultRedisTierConfig(),
		pipeline: codec.Pipeline{Serializer: codec.JSON{}},
		now:      time.Now,
	}

	fields := map[string]string{
		fieldPayload:      `"hello"`,
		fieldCreatedAt:    "1700000000000",
		fieldLastAccessed: "1700000001000",
		fieldAccessCount:  "7",
		fieldTTL:          "60000",
		fieldCompressed:   "0",
		fieldTags:         "users,premium",
		fieldSize:         "7",
		fieldVersion:      "3",
	}

	e, err := tier.decodeEntry("user:1", fields)
	if err != nil {
		t.Fatalf("decodeEntry failed: %v", err)
	}
	if e.Value != "hello" {
		t.Errorf("Value = %v, want hello", e.Value)
	}
	if e.Metadata.AccessCount != 7 {
		t.Errorf("AccessCount = %d, want 7", e.Metadata.AccessCount)
	}
	if e.Metadata.TTL != time.Minute {
		t.Errorf("TTL = %v, want 1m", e.Metadata.TTL)
	}
	if len(e.Metadata.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 tags", e.Metadata.Tags)
	}
	if e.Metadata.Version != 3 {
		t.Errorf("Version = %d, want 3", e.Metadata.Version)
	}

	// Missing payload field
	_, err = tier.decodeEntry("broken", map[string]string{fieldCreatedAt: "1"})
	if !cache.IsSerializationError(err) {
		t.Errorf("decodeEntry without payload error = %v, want SerializationError", err)
	}

	// Corrupt payload
	_, err = tier.decodeEntry("corrupt", map[string]string{fieldPayload: "{not json"})
	if !cache.IsSerializationError(err) {
		t.Errorf("decodeEntry with corrupt payload error = %v, want SerializationError", err)
	}
}
