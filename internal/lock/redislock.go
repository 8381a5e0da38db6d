package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serialises work on a key.
type Guard interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// releaseScript deletes the key only while it still holds our token, so a
// holder whose ttl lapsed cannot free someone else's lock.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker is a Guard shared by every API instance through Redis. Waiters poll
// with a backoff that doubles from RetryBackoff up to MaxBackoff.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// WithLock runs fn while holding key. The lock is released when fn returns,
// whatever it returns. Waiting stops with ctx.Err() once ctx is done.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	redisKey := l.Prefix + key
	token := uuid.NewString()
	wait, ceiling := l.backoff()

	for {
		ok, err := l.R.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), redisKey, token)
			return fn(ctx)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, ceiling)
	}
}

func (l Locker) backoff() (first, ceiling time.Duration) {
	first = l.RetryBackoff
	if first <= 0 {
		first = 50 * time.Millisecond
	}
	ceiling = l.MaxBackoff
	if ceiling < first {
		ceiling = 8 * first
	}
	return first, ceiling
}

func (l Locker) release(ctx context.Context, key, token string) {
	err := releaseScript.Run(ctx, l.R, []string{key}, token).Err()
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown command") {
		_ = l.R.Del(ctx, key).Err()
	}
}

// Key joins parts into a lock name, e.g. Key("commission", "order", id).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
