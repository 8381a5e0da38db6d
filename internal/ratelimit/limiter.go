package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultPrefix namespaces limiter keys in the store.
const DefaultPrefix = "tt:ratelimit"

// NewStore returns a Redis-backed limiter store, or an in-process one when
// client is nil.
func NewStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	opts := limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}
	if client == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	return limiterredis.NewStoreWithOptions(client, opts)
}

// ParseRate reads the "<limit>-<period>" format, e.g. "30-M" or "5-S".
func ParseRate(formatted string) (limiter.Rate, error) {
	return limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
}

// Limiter applies one rate to any number of keys.
type Limiter struct {
	L *limiter.Limiter
}

// New binds rate to store.
func New(store limiter.Store, rate limiter.Rate) Limiter {
	return Limiter{L: limiter.New(store, rate)}
}

// Allow registers a hit for key and reports whether it is within the limit.
func (l Limiter) Allow(ctx context.Context, key string) (allowed bool, limit, remaining int, reset time.Time, err error) {
	if l.L == nil {
		return true, 0, 0, time.Now(), nil
	}
	res, err := l.L.Get(ctx, key)
	if err != nil {
		return false, 0, 0, time.Now(), err
	}
	return !res.Reached, int(res.Limit), int(res.Remaining), time.Unix(res.Reset, 0), nil
}
