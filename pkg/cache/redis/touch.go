package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

// touchScript bumps a key's access metadata only if the key still exists, so
// a touch racing a delete cannot resurrect the key as a metadata-only hash.
var touchScript = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'l', ARGV[1])
  return redis.call('HINCRBY', KEYS[1], 'n', 1)
end
return 0
`)

// Touch synchronously bumps a key's last-accessed timestamp and access
// count. Reads do this asynchronously; Touch exists for refresh decisions
// that must take effect before the caller proceeds.
func (t *RedisTier) Touch(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	return t.touch(ctx, key)
}

func (t *RedisTier) touch(ctx context.Context, key string) error {
	fullKey := t.config.KeyPrefix + key
	nowMs := strconv.FormatInt(t.now().UnixMilli(), 10)

	resp := touchScript.Exec(ctx, t.client, []string{fullKey}, []string{nowMs})
	if err := resp.Error(); err != nil {
		return cache.NewConnectionError(t.name, "touch", err)
	}
	return nil
}

// enqueueTouch schedules a best-effort metadata bump for a key that was just
// read. When the queue is full the bump is dropped; reads never block on
// metadata upkeep.
func (t *RedisTier) enqueueTouch(key string) {
	select {
	case <-t.stopTouch:
	case t.touchCh <- key:
	default:
	}
}

// touchWorker drains the touch queue until the tier closes. Touch failures
// are ignored; the next read of the key will try again.
func (t *RedisTier) touchWorker() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopTouch:
			return
		case key := <-t.touchCh:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			t.touch(ctx, key)
			cancel()
		}
	}
}
