// Package cache is the response cache store: key to value plus expiry,
// swept periodically, with an in-memory and a Redis backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultExpire is used when Set receives a zero TTL.
const DefaultExpire = 5 * time.Minute

// Store is a key-value cache with expiry.
//
// TTL semantics for Set and SetExpire:
//   - positive: entry expires after the duration
//   - zero: the store's default expiry
//   - negative: entry never expires
type Store[V any] interface {
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	// SetExpire changes the expiry of an existing entry.
	SetExpire(ctx context.Context, key string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	// RemoveMatching removes every key containing substr and reports how many went.
	RemoveMatching(ctx context.Context, substr string) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// Marshaler serializes values for byte oriented backends.
type Marshaler[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

type jsonMarshaler[V any] struct{}

func (jsonMarshaler[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrMarshal, err)
	}
	return data, nil
}

func (jsonMarshaler[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Join(ErrUnmarshal, err)
	}
	return v, nil
}

var loads singleflight.Group

type loaded[V any] struct {
	val V
	ttl time.Duration
}

// Fn returns the cached value for key or computes it with fn on a miss.
// Concurrent misses for the same store and key run fn once.
// Errors from fn are returned and nothing is cached.
func Fn[V any](ctx context.Context, s Store[V], key string, fn func(ctx context.Context) (V, time.Duration, error)) (V, error) {
	if v, err := s.Get(ctx, key); err == nil {
		return v, nil
	}

	res, err, _ := loads.Do(fmt.Sprintf("%p/%s", s, key), func() (any, error) {
		val, ttl, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return loaded[V]{val: val, ttl: ttl}, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	r := res.(loaded[V])
	_ = s.Set(ctx, key, r.val, r.ttl)
	return r.val, nil
}
