package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

// deletePatternScript removes every key matching a glob pattern in one
// atomic server-side step, so a concurrent writer cannot slip a matching
// key between the scan and the deletes.
var deletePatternScript = rueidis.NewLuaScript(`
local keys = redis.call('KEYS', ARGV[1])
for i = 1, #keys do
  redis.call('DEL', keys[i])
end
return #keys
`)

// invalidateTagScript deletes every member of a tag set plus the set itself,
// returning the members so callers can purge other tiers.
var invalidateTagScript = rueidis.NewLuaScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for i = 1, #members do
  redis.call('DEL', members[i])
end
redis.call('DEL', KEYS[1])
return members
`)

// DeletePattern removes every key matching the glob pattern and returns how
// many were removed. The scan and deletes execute atomically on the backend.
func (t *RedisTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if err := cache.ValidatePattern(pattern); err != nil {
		return 0, err
	}
	fullPattern := t.config.KeyPrefix + pattern

	resp := deletePatternScript.Exec(ctx, t.client, nil, []string{fullPattern})
	if err := resp.Error(); err != nil {
		return 0, cache.NewConnectionError(t.name, "delete_pattern", err)
	}
	count, err := resp.AsInt64()
	if err != nil {
		return 0, cache.NewConnectionError(t.name, "delete_pattern", err)
	}
	return int(count), nil
}

// InvalidateTag removes every key registered under the tag and the tag set
// itself, atomically. It returns the removed keys (without the key prefix)
// so callers can purge the same keys from faster tiers.
func (t *RedisTier) InvalidateTag(ctx context.Context, tag string) ([]string, error) {
	if err := cache.ValidateKey(tag); err != nil {
		return nil, &cache.ValidationError{Field: "tag", Reason: err.Error()}
	}
	tagKey := t.config.TagPrefix + tag

	resp := invalidateTagScript.Exec(ctx, t.client, []string{tagKey}, nil)
	if err := resp.Error(); err != nil {
		return nil, cache.NewConnectionError(t.name, "invalidate_tag", err)
	}
	members, err := resp.AsStrSlice()
	if err != nil {
		return nil, cache.NewConnectionError(t.name, "invalidate_tag", err)
	}

	return t.stripPrefixes(members), nil
}

// cleanupMaxSets bounds how many tag sets one Cleanup pass inspects, keeping
// the sweep's backend load flat regardless of how many tags exist.
const cleanupMaxSets = 256

// Cleanup prunes tag sets: members whose keys have expired or been deleted
// are removed, and fully dead sets are dropped. Returns the number of dead
// references pruned.
func (t *RedisTier) Cleanup(ctx context.Context) (int, error) {
	var cursor uint64
	pruned := 0
	setsSeen := 0

	for {
		resp := t.client.Do(ctx, t.client.B().Scan().Cursor(cursor).Match(t.config.TagPrefix+"*").Count(100).Build())
		if err := resp.Error(); err != nil {
			return pruned, cache.NewConnectionError(t.name, "cleanup", err)
		}
		entry, err := resp.AsScanEntry()
		if err != nil {
			return pruned, cache.NewConnectionError(t.name, "cleanup", err)
		}
		cursor = entry.Cursor

		for _, tagKey := range entry.Elements {
			n, err := t.pruneTagSet(ctx, tagKey)
			if err != nil {
				return pruned, err
			}
			pruned += n
			setsSeen++
			if setsSeen >= cleanupMaxSets {
				return pruned, nil
			}
		}

		if cursor == 0 {
			return pruned, nil
		}
	}
}

func (t *RedisTier) pruneTagSet(ctx context.Context, tagKey string) (int, error) {
	resp := t.client.Do(ctx, t.client.B().Smembers().Key(tagKey).Build())
	if err := resp.Error(); err != nil {
		return 0, cache.NewConnectionError(t.name, "cleanup", err)
	}
	members, err := resp.AsStrSlice()
	if err != nil {
		return 0, cache.NewConnectionError(t.name, "cleanup", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	cmds := make([]rueidis.Completed, len(members))
	for i := range members {
		cmds[i] = t.client.B().Exists().Key(members[i]).Build()
	}

	var dead []string
	for i, r := range t.client.DoMulti(ctx, cmds...) {
		if err := r.Error(); err != nil {
			return 0, cache.NewConnectionError(t.name, "cleanup", err)
		}
		count, err := r.AsInt64()
		if err != nil {
			return 0, cache.NewConnectionError(t.name, "cleanup", err)
		}
		if count == 0 {
			dead = append(dead, members[i])
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	// SREM of the last member drops the set itself.
	if err := t.client.Do(ctx, t.client.B().Srem().Key(tagKey).Member(dead...).Build()).Error(); err != nil {
		return 0, cache.NewConnectionError(t.name, "cleanup", err)
	}
	return len(dead), nil
}
