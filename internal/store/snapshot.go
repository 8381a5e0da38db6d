package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
)

// Snapshot persists a JSON-serialisable value under a fixed key.
//
// Load reports false when the value is absent or cannot be decoded so callers
// can fall back to seed data. Save never fails the caller: write errors are
// logged and the in-memory state stays authoritative.
type Snapshot[T any] struct {
	KV     KV
	Key    string
	Logger zerolog.Logger
}

// NewSnapshot binds a key on kv.
func NewSnapshot[T any](kv KV, key string, logger zerolog.Logger) Snapshot[T] {
	return Snapshot[T]{KV: kv, Key: key, Logger: logger}
}

// Load decodes the stored value.
func (s Snapshot[T]) Load(ctx context.Context) (T, bool) {
	var zero T
	if s.KV == nil || s.Key == "" {
		return zero, false
	}
	data, err := s.KV.Get(ctx, s.Key)
	if err != nil {
		if !errors.Is(err, ErrMissing) {
			s.Logger.Warn().Err(err).Str("key", s.Key).Msg("load snapshot")
		}
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		s.Logger.Warn().Err(err).Str("key", s.Key).Msg("discard corrupt snapshot")
		return zero, false
	}
	return v, true
}

// Save encodes and stores v.
func (s Snapshot[T]) Save(ctx context.Context, v T) {
	if s.KV == nil || s.Key == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.Logger.Error().Err(err).Str("key", s.Key).Msg("encode snapshot")
		return
	}
	if err := s.KV.Set(ctx, s.Key, data); err != nil {
		s.Logger.Error().Err(err).Str("key", s.Key).Msg("save snapshot")
	}
}
