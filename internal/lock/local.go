package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Local is an in-process Guard for single-instance deployments without Redis.
// The ttl argument is ignored; a key is held until fn returns.
type Local struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

// NewLocal returns an empty Local guard.
func NewLocal() *Local {
	return &Local{keys: make(map[string]chan struct{})}
}

// WithLock runs fn while holding key, waiting for earlier holders or ctx.
func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	for {
		l.mu.Lock()
		if l.keys == nil {
			l.keys = make(map[string]chan struct{})
		}
		held, busy := l.keys[key]
		if !busy {
			done := make(chan struct{})
			l.keys[key] = done
			l.mu.Unlock()
			defer func() {
				l.mu.Lock()
				delete(l.keys, key)
				l.mu.Unlock()
				close(done)
			}()
			return fn(ctx)
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-held:
		}
	}
}
