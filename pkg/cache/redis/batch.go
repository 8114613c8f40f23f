package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/rueidis"
	"golang.org/x/sync/errgroup"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

// MGet retrieves multiple keys. The key set is split into partition groups
// by key hash and each group is fetched with its own pipeline concurrently,
// so one slow or failing group forfeits only its own keys. Partial results
// are returned together with the joined per-key errors.
func (t *RedisTier) MGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var errs []error

	valid := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", key, err))
			continue
		}
		valid = append(valid, key)
	}

	var eg errgroup.Group
	for _, group := range t.partition(valid) {
		group := group
		eg.Go(func() error {
			cmds := make([]rueidis.Completed, len(group))
			for i, key := range group {
				cmds[i] = t.client.B().Hgetall().Key(t.config.KeyPrefix + key).Build()
			}

			for i, resp := range t.client.DoMulti(ctx, cmds...) {
				key := group[i]
				if err := resp.Error(); err != nil {
					mu.Lock()
					errs = append(errs, cache.NewConnectionError(t.name, "mget", fmt.Errorf("key %q: %w", key, err)))
					mu.Unlock()
					continue
				}
				fields, err := resp.AsStrMap()
				if err != nil {
					mu.Lock()
					errs = append(errs, cache.NewConnectionError(t.name, "mget", fmt.Errorf("key %q: %w", key, err)))
					mu.Unlock()
					continue
				}
				if len(fields) == 0 {
					continue
				}

				e, err := t.decodeEntry(key, fields)
				if err != nil {
					// Corrupt payload: a miss for this key, not a tier failure.
					mu.Lock()
					errs = append(errs, fmt.Errorf("key %q: %w", key, err))
					mu.Unlock()
					continue
				}

				mu.Lock()
				result[key] = e.Value
				mu.Unlock()
				t.enqueueTouch(key)
			}
			return nil
		})
	}
	eg.Wait()

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// partition splits keys into at most PartitionGroups buckets by key hash.
// The grouping is deterministic: the same key always lands in the same
// bucket, and every key lands in exactly one.
func (t *RedisTier) partition(keys []string) [][]string {
	n := t.config.PartitionGroups
	if n <= 1 || len(keys) <= 1 {
		return [][]string{keys}
	}

	buckets := make([][]string, n)
	for _, key := range keys {
		i := int(xxhash.Sum64String(key) % uint64(n))
		buckets[i] = append(buckets[i], key)
	}

	groups := make([][]string, 0, n)
	for _, b := range buckets {
		if len(b) > 0 {
			groups = append(groups, b)
		}
	}
	return groups
}

// MSet stores multiple values with a shared TTL in one pipeline. Encoding
// failures abort before anything is written; transport failures are joined
// per key.
func (t *RedisTier) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}

	nowMs := t.now().UnixMilli()

	// 3 commands per key: HSET, HINCRBY version, PEXPIRE/PERSIST.
	cmds := make([]rueidis.Completed, 0, 3*len(items))
	keys := make([]string, 0, len(items))

	for key, value := range items {
		if err := cache.ValidateKey(key); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		payload, compressed, err := t.pipeline.Encode(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}

		compressedFlag := "0"
		if compressed {
			compressedFlag = "1"
		}

		fullKey := t.config.KeyPrefix + key
		keys = append(keys, key)
		cmds = append(cmds,
			t.client.B().Hset().Key(fullKey).FieldValue().
				FieldValue(fieldPayload, rueidis.BinaryString(payload)).
				FieldValue(fieldCreatedAt, strconv.FormatInt(nowMs, 10)).
				FieldValue(fieldLastAccessed, strconv.FormatInt(nowMs, 10)).
				FieldValue(fieldAccessCount, "0").
				FieldValue(fieldTTL, strconv.FormatInt(ttl.Milliseconds(), 10)).
				FieldValue(fieldCompressed, compressedFlag).
				FieldValue(fieldTags, "").
				FieldValue(fieldSize, strconv.Itoa(len(payload))).
				Build(),
			t.client.B().Hincrby().Key(fullKey).Field(fieldVersion).Increment(1).Build(),
			t.expireCmd(fullKey, ttl),
		)
	}

	var errs []error
	for i, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", keys[i/3], err))
		}
	}
	if len(errs) > 0 {
		return cache.NewConnectionError(t.name, "mset", errors.Join(errs...))
	}
	return nil
}

// MDelete removes multiple keys with a single DEL.
func (t *RedisTier) MDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		fullKeys = append(fullKeys, t.config.KeyPrefix+key)
	}

	if err := t.client.Do(ctx, t.client.B().Del().Key(fullKeys...).Build()).Error(); err != nil {
		return cache.NewConnectionError(t.name, "mdelete", err)
	}
	return nil
}

// Tags returns the tags currently recorded on a key's stored copy.
func (t *RedisTier) Tags(ctx context.Context, key string) ([]string, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}
	fullKey := t.config.KeyPrefix + key

	resp := t.client.Do(ctx, t.client.B().Hget().Key(fullKey).Field(fieldTags).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, cache.NewConnectionError(t.name, "tags", err)
	}
	raw, err := resp.ToString()
	if err != nil {
		return nil, cache.NewConnectionError(t.name, "tags", err)
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, ","), nil
}
