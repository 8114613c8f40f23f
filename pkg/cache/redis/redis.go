// Package redis implements the distributed cache tier on a Redis-compatible
// backend. Each key is stored as a hash carrying the serialized payload plus
// its access metadata, so staleness and hotness survive process restarts.
// Expiry is delegated to the backend via PEXPIRE.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/rueidis"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/codec"
)

// Hash fields of a stored entry. Single letters keep the per-entry metadata
// overhead small relative to the payload.
const (
	fieldPayload      = "v"
	fieldCreatedAt    = "c" // unix ms
	fieldLastAccessed = "l" // unix ms
	fieldAccessCount  = "n"
	fieldTTL          = "t" // ms, 0 = no expiration
	fieldCompressed   = "z" // 0/1
	fieldTags         = "g" // comma-joined
	fieldSize         = "s" // payload bytes
	fieldVersion      = "r"
)

// RedisTier is the distributed cache tier.
type RedisTier struct {
	client   rueidis.Client
	name     string
	config   RedisTierConfig
	pipeline codec.Pipeline

	// touchCh carries best-effort metadata bumps enqueued by reads
	touchCh   chan string
	stopTouch chan struct{}
	wg        sync.WaitGroup

	// now is replaced in tests to control staleness
	now func() time.Time
}

type RedisTierConfig struct {
	Name string
	// Addr is the Redis server address for single node mode.
	// For cluster mode, use ClusterAddrs instead.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	// Example: []string{"node1:6379", "node2:6379", "node3:6379"}
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number (0-15).
	// Note: In cluster mode, only DB 0 is supported.
	DB int
	// KeyPrefix namespaces every stored key.
	KeyPrefix string
	// TagPrefix namespaces the tag sets used for bulk invalidation.
	TagPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PartitionGroups controls how MGet splits its key set into
	// concurrently fetched pipelines. One group's failure forfeits only
	// that group's keys.
	PartitionGroups int
	// Serializer selects the payload encoding: "json" (default), "msgpack".
	Serializer string
	// Compressor selects payload compression: "none", "gzip" (default),
	// "s2", "zstd".
	Compressor string
	// CompressionThreshold is the minimum serialized size in bytes before
	// compression is attempted; 0 disables compression.
	CompressionThreshold int
	// TouchQueueSize bounds the queue of pending read-side metadata bumps;
	// when full, bumps are dropped rather than blocking reads.
	TouchQueueSize int
	// TouchWorkers is the number of goroutines draining the touch queue.
	TouchWorkers int
	// Sentinel configuration for high availability
	SentinelMasterSet string
	// SentinelAddrs is a list of Redis Sentinel addresses.
	// If set, sentinel mode is enabled.
	SentinelAddrs    []string
	SentinelUsername string
	SentinelPassword string
}

func DefaultRedisTierConfig() RedisTierConfig {
	return RedisTierConfig{
		Name:                 "redis",
		Addr:                 "localhost:6379",
		DB:                   0,
		KeyPrefix:            "cache:",
		TagPrefix:            "cache:tag:",
		DialTimeout:          5 * time.Second,
		WriteTimeout:         3 * time.Second,
		PartitionGroups:      8,
		Serializer:           "json",
		Compressor:           "gzip",
		CompressionThreshold: codec.DefaultCompressionThreshold,
		TouchQueueSize:       1024,
		TouchWorkers:         2,
	}
}

// ClusterTierConfig returns a configuration for Redis Cluster mode.
// clusterAddrs should contain multiple Redis cluster node addresses.
func ClusterTierConfig(name string, clusterAddrs []string, password string) RedisTierConfig {
	config := DefaultRedisTierConfig()
	config.Name = name
	config.ClusterAddrs = clusterAddrs
	config.Password = password
	config.Addr = "" // Clear single node address
	config.DB = 0    // Cluster only supports DB 0
	return config
}

// SentinelTierConfig returns a configuration for Redis Sentinel mode.
// sentinelAddrs should contain Redis Sentinel addresses.
// masterSet is the name of the master set to connect to.
func SentinelTierConfig(name string, sentinelAddrs []string, masterSet, password string) RedisTierConfig {
	config := DefaultRedisTierConfig()
	config.Name = name
	config.SentinelAddrs = sentinelAddrs
	config.SentinelMasterSet = masterSet
	config.Password = password
	config.Addr = "" // Clear single node address
	return config
}

// NewRedisTier connects to the backend, verifies it with a ping, and starts
// the touch workers.
func NewRedisTier(config RedisTierConfig) (*RedisTier, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.TagPrefix == "" {
		config.TagPrefix = config.KeyPrefix + "tag:"
	}
	if config.PartitionGroups <= 0 {
		config.PartitionGroups = 8
	}
	if config.TouchQueueSize <= 0 {
		config.TouchQueueSize = 1024
	}
	if config.TouchWorkers <= 0 {
		config.TouchWorkers = 2
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	pipeline, err := codec.NewPipeline(config.Serializer, config.Compressor, config.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	// Determine addresses based on configuration
	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}

	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	t := &RedisTier{
		client:    client,
		name:      config.Name,
		config:    config,
		pipeline:  pipeline,
		touchCh:   make(chan string, config.TouchQueueSize),
		stopTouch: make(chan struct{}),
		now:       time.Now,
	}

	for i := 0; i < config.TouchWorkers; i++ {
		t.wg.Add(1)
		go t.touchWorker()
	}

	return t, nil
}

// Get retrieves a value. Every hit enqueues a best-effort metadata bump so
// staleness and hotness reflect distributed reads, without blocking the
// read path.
func (t *RedisTier) Get(ctx context.Context, key string) (interface{}, error) {
	e, _, err := t.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// GetWithMetadata retrieves a value with its metadata. The bool result
// reports staleness: more than 80% of the TTL has passed since the entry was
// last accessed anywhere.
func (t *RedisTier) GetWithMetadata(ctx context.Context, key string) (*cache.Entry, bool, error) {
	return t.read(ctx, key)
}

func (t *RedisTier) read(ctx context.Context, key string) (*cache.Entry, bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, false, err
	}
	fullKey := t.config.KeyPrefix + key

	resp := t.client.Do(ctx, t.client.B().Hgetall().Key(fullKey).Build())
	if err := resp.Error(); err != nil {
		return nil, false, cache.NewConnectionError(t.name, "get", err)
	}

	fields, err := resp.AsStrMap()
	if err != nil {
		return nil, false, cache.NewConnectionError(t.name, "get", err)
	}
	if len(fields) == 0 {
		return nil, false, cache.ErrKeyNotFound
	}

	e, err := t.decodeEntry(key, fields)
	if err != nil {
		return nil, false, err
	}

	stale := e.Metadata.Stale(t.now())
	t.enqueueTouch(key)

	return e, stale, nil
}

// Set stores a value. A ttl > 0 expires the entry via the backend's own
// expiry; ttl <= 0 stores it without expiration.
func (t *RedisTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return t.SetWithTags(ctx, key, value, ttl, nil)
}

// SetWithTags stores a value and registers it under each tag for bulk
// invalidation. The hash write, expiry, and tag-set updates ride a single
// pipeline. Each tag set's expiry is refreshed to this write's TTL.
func (t *RedisTier) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := cache.ValidateKey(tag); err != nil {
			return &cache.ValidationError{Field: "tag", Reason: fmt.Sprintf("%q: %v", tag, err)}
		}
	}
	if ttl < 0 {
		ttl = 0
	}

	payload, compressed, err := t.pipeline.Encode(value)
	if err != nil {
		return err
	}

	fullKey := t.config.KeyPrefix + key
	nowMs := t.now().UnixMilli()

	compressedFlag := "0"
	if compressed {
		compressedFlag = "1"
	}

	cmds := make([]rueidis.Completed, 0, 3+2*len(tags))
	cmds = append(cmds, t.client.B().Hset().Key(fullKey).FieldValue().
		FieldValue(fieldPayload, rueidis.BinaryString(payload)).
		FieldValue(fieldCreatedAt, strconv.FormatInt(nowMs, 10)).
		FieldValue(fieldLastAccessed, strconv.FormatInt(nowMs, 10)).
		FieldValue(fieldAccessCount, "0").
		FieldValue(fieldTTL, strconv.FormatInt(ttl.Milliseconds(), 10)).
		FieldValue(fieldCompressed, compressedFlag).
		FieldValue(fieldTags, strings.Join(tags, ",")).
		FieldValue(fieldSize, strconv.Itoa(len(payload))).
		Build())
	cmds = append(cmds, t.client.B().Hincrby().Key(fullKey).Field(fieldVersion).Increment(1).Build())
	cmds = append(cmds, t.expireCmd(fullKey, ttl))

	for _, tag := range tags {
		tagKey := t.config.TagPrefix + tag
		cmds = append(cmds, t.client.B().Sadd().Key(tagKey).Member(fullKey).Build())
		cmds = append(cmds, t.expireCmd(tagKey, ttl))
	}

	for _, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return cache.NewConnectionError(t.name, "set", err)
		}
	}
	return nil
}

// AssociateTags adds tags to an existing key without rewriting its value.
// The tag sets inherit the key's remaining expiry, and the key's own tag
// field is updated so later reads see the full tag list.
func (t *RedisTier) AssociateTags(ctx context.Context, key string, tags []string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	for _, tag := range tags {
		if err := cache.ValidateKey(tag); err != nil {
			return &cache.ValidationError{Field: "tag", Reason: fmt.Sprintf("%q: %v", tag, err)}
		}
	}

	fullKey := t.config.KeyPrefix + key

	resp := t.client.Do(ctx, t.client.B().Pttl().Key(fullKey).Build())
	if err := resp.Error(); err != nil {
		return cache.NewConnectionError(t.name, "associate_tags", err)
	}
	pttlMs, err := resp.AsInt64()
	if err != nil {
		return cache.NewConnectionError(t.name, "associate_tags", err)
	}
	if pttlMs == -2 {
		return cache.ErrKeyNotFound
	}

	ttl := time.Duration(0)
	if pttlMs > 0 {
		ttl = time.Duration(pttlMs) * time.Millisecond
	}

	merged, err := t.mergedTags(ctx, fullKey, tags)
	if err != nil {
		return err
	}

	cmds := make([]rueidis.Completed, 0, 1+2*len(tags))
	cmds = append(cmds, t.client.B().Hset().Key(fullKey).FieldValue().
		FieldValue(fieldTags, strings.Join(merged, ",")).Build())
	for _, tag := range tags {
		tagKey := t.config.TagPrefix + tag
		cmds = append(cmds, t.client.B().Sadd().Key(tagKey).Member(fullKey).Build())
		cmds = append(cmds, t.expireCmd(tagKey, ttl))
	}

	for _, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return cache.NewConnectionError(t.name, "associate_tags", err)
		}
	}
	return nil
}

// mergedTags unions the key's stored tag list with new tags, preserving the
// stored order. Concurrent associations can lose an update; tag membership
// in the sets themselves (what invalidation uses) is unaffected.
func (t *RedisTier) mergedTags(ctx context.Context, fullKey string, tags []string) ([]string, error) {
	resp := t.client.Do(ctx, t.client.B().Hget().Key(fullKey).Field(fieldTags).Build())
	if err := resp.Error(); err != nil && !rueidis.IsRedisNil(err) {
		return nil, cache.NewConnectionError(t.name, "associate_tags", err)
	}

	var existing []string
	if raw, err := resp.ToString(); err == nil && raw != "" {
		existing = strings.Split(raw, ",")
	}

	seen := make(map[string]bool, len(existing)+len(tags))
	merged := make([]string, 0, len(existing)+len(tags))
	for _, tag := range existing {
		if !seen[tag] {
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	fullKey := t.config.KeyPrefix + key

	if err := t.client.Do(ctx, t.client.B().Del().Key(fullKey).Build()).Error(); err != nil {
		return cache.NewConnectionError(t.name, "delete", err)
	}
	return nil
}

// Name returns the tier identifier.
func (t *RedisTier) Name() string {
	return t.name
}

// Close stops the touch workers and releases the client. Queued touches that
// have not started are dropped.
func (t *RedisTier) Close() error {
	close(t.stopTouch)
	t.wg.Wait()
	t.client.Close()
	return nil
}

// Ping verifies connectivity to the backend.
func (t *RedisTier) Ping(ctx context.Context) error {
	if err := t.client.Do(ctx, t.client.B().Ping().Build()).Error(); err != nil {
		return cache.NewConnectionError(t.name, "ping", err)
	}
	return nil
}

// TTL returns a key's remaining time-to-live. It returns -1 for entries
// without expiration and ErrKeyNotFound for absent keys.
func (t *RedisTier) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := cache.ValidateKey(key); err != nil {
		return 0, err
	}
	fullKey := t.config.KeyPrefix + key

	resp := t.client.Do(ctx, t.client.B().Pttl().Key(fullKey).Build())
	if err := resp.Error(); err != nil {
		return 0, cache.NewConnectionError(t.name, "ttl", err)
	}
	ms, err := resp.AsInt64()
	if err != nil {
		return 0, cache.NewConnectionError(t.name, "ttl", err)
	}

	switch ms {
	case -2:
		return 0, cache.ErrKeyNotFound
	case -1:
		return -1, nil
	default:
		return time.Duration(ms) * time.Millisecond, nil
	}
}

// Exists reports whether a key is present.
func (t *RedisTier) Exists(ctx context.Context, key string) (bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return false, err
	}
	fullKey := t.config.KeyPrefix + key

	resp := t.client.Do(ctx, t.client.B().Exists().Key(fullKey).Build())
	if err := resp.Error(); err != nil {
		return false, cache.NewConnectionError(t.name, "exists", err)
	}
	count, err := resp.AsInt64()
	if err != nil {
		return false, cache.NewConnectionError(t.name, "exists", err)
	}
	return count > 0, nil
}

// FlushDB removes every key in the selected database. Test helper.
func (t *RedisTier) FlushDB(ctx context.Context) error {
	if err := t.client.Do(ctx, t.client.B().Flushdb().Build()).Error(); err != nil {
		return cache.NewConnectionError(t.name, "flushdb", err)
	}
	return nil
}

// Keys returns the keys matching a glob pattern, without the key prefix.
// KEYS blocks the backend; use it for diagnostics, not hot paths.
func (t *RedisTier) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := cache.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	fullPattern := t.config.KeyPrefix + pattern

	resp := t.client.Do(ctx, t.client.B().Keys().Pattern(fullPattern).Build())
	if err := resp.Error(); err != nil {
		return nil, cache.NewConnectionError(t.name, "keys", err)
	}
	keys, err := resp.AsStrSlice()
	if err != nil {
		return nil, cache.NewConnectionError(t.name, "keys", err)
	}

	return t.stripPrefixes(keys), nil
}

func (t *RedisTier) stripPrefixes(fullKeys []string) []string {
	out := make([]string, len(fullKeys))
	for i, k := range fullKeys {
		out[i] = strings.TrimPrefix(k, t.config.KeyPrefix)
	}
	return out
}

// expireCmd returns the expiry command for a write: PEXPIRE for bounded
// TTLs, PERSIST for entries without expiration (the key may previously have
// carried a TTL).
func (t *RedisTier) expireCmd(fullKey string, ttl time.Duration) rueidis.Completed {
	if ttl > 0 {
		return t.client.B().Pexpire().Key(fullKey).Milliseconds(ttl.Milliseconds()).Build()
	}
	return t.client.B().Persist().Key(fullKey).Build()
}

// decodeEntry rebuilds an Entry from its stored hash fields.
func (t *RedisTier) decodeEntry(key string, fields map[string]string) (*cache.Entry, error) {
	raw, ok := fields[fieldPayload]
	if !ok {
		return nil, &cache.SerializationError{Op: "decode", Err: fmt.Errorf("key %q: stored hash has no payload field", key)}
	}
	compressed := fields[fieldCompressed] == "1"

	value, err := t.pipeline.Decode([]byte(raw), compressed)
	if err != nil {
		return nil, err
	}

	meta := cache.Metadata{
		CreatedAt:    time.UnixMilli(parseInt64(fields[fieldCreatedAt])),
		LastAccessed: time.UnixMilli(parseInt64(fields[fieldLastAccessed])),
		AccessCount:  parseInt64(fields[fieldAccessCount]),
		TTL:          time.Duration(parseInt64(fields[fieldTTL])) * time.Millisecond,
		Size:         parseInt64(fields[fieldSize]),
		Version:      int(parseInt64(fields[fieldVersion])),
		Compressed:   compressed,
		Tier:         cache.KindDistributed,
	}
	if g := fields[fieldTags]; g != "" {
		meta.Tags = strings.Split(g, ",")
	}

	return &cache.Entry{Key: key, Value: value, Metadata: meta}, nil
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
