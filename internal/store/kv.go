package store

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrMissing is returned by KV implementations when the key does not exist.
var ErrMissing = errors.New("store: key not found")

// Fixed storage keys shared with earlier storefront releases.
const (
	KeyProducts   = "tiny_treasure_products_v1"
	KeyStores     = "tiny_treasure_stores_v1"
	KeyOrders     = "tiny_treasure_orders_v1"
	KeyCommission = "tiny_treasure_commission_v1"
	KeyWebhooks   = "tiny_treasure_webhooks_v1"
)

// KV is the minimal key-value contract the storefront persists through.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
}

// Redis stores values in Redis without expiry.
type Redis struct {
	Client *redis.Client
}

// NewRedis wraps a Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

// Get returns the raw value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("store: redis client not configured")
	}
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMissing
		}
		return nil, err
	}
	return data, nil
}

// Set replaces the value stored under key.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if r == nil || r.Client == nil {
		return errors.New("store: redis client not configured")
	}
	return r.Client.Set(ctx, key, value, 0).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("store: redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Memory is a process-local KV used when no Redis URL is configured and in tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrMissing
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
