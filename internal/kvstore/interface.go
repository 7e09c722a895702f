// Package kvstore defines the shared key-value store that holds weather
// aggregates, ET₀ series and soil bucket state, and its backends.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chrissnell/irrigationwx/internal/types"
)

// Store is the minimal key-value contract the irrigation core relies on.
// SetIfAbsent is the only concurrency-control primitive: it must be atomic
// across processes sharing the same backend.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent stores value only if key does not exist and reports whether
	// it did so.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and decodes it into v. Backend failures are reported as
// ErrStoreUnavailable; an undecodable value as ErrDataUnavailable.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, types.StoreUnavailable("get", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, types.DataUnavailable("decode", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, string(raw)); err != nil {
		return types.StoreUnavailable("set", key, err)
	}
	return nil
}
