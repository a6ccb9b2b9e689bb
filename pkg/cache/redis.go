package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store shared between processes. Expiry is delegated to Redis, so
// there is no sweep.
type Redis[V any] struct {
	client     redis.UniversalClient
	marshaler  Marshaler[V]
	prefix     string
	defaultTTL time.Duration
}

// NewRedis creates a Redis backed store. A nil marshaler means JSON.
// Keys are stored as "{prefix}:{key}" when prefix is not empty.
//
//	client := redis.MustOpen(ctx, os.Getenv("REDIS_URL"))
//	c := cache.NewRedis[[]byte](client, nil, "trellis", 0)
func NewRedis[V any](client redis.UniversalClient, m Marshaler[V], prefix string, defaultTTL time.Duration) *Redis[V] {
	if m == nil {
		m = jsonMarshaler[V]{}
	}
	if defaultTTL == 0 {
		defaultTTL = DefaultExpire
	}
	return &Redis[V]{client: client, marshaler: m, prefix: prefix, defaultTTL: defaultTTL}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, err
	}
	return r.marshaler.Unmarshal(data)
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := r.marshaler.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), data, r.ttl(ttl)).Err()
}

func (r *Redis[V]) SetExpire(ctx context.Context, key string, ttl time.Duration) error {
	var (
		ok  bool
		err error
	)
	if ttl < 0 {
		ok, err = r.client.Persist(ctx, r.key(key)).Result()
	} else {
		ok, err = r.client.Expire(ctx, r.key(key), r.ttl(ttl)).Result()
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *Redis[V]) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis[V]) RemoveMatching(ctx context.Context, substr string) (int, error) {
	return r.scanDelete(ctx, r.key("*"+substr+"*"))
}

// Clear removes the prefixed keys, or the whole database without a prefix.
func (r *Redis[V]) Clear(ctx context.Context) error {
	if r.prefix == "" {
		return r.client.FlushDB(ctx).Err()
	}
	_, err := r.scanDelete(ctx, r.prefix+":*")
	return err
}

// Close is a no-op; the client is owned by the caller (see pkg/redis.Shutdown).
func (r *Redis[V]) Close() error {
	return nil
}

func (r *Redis[V]) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis[V]) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	// redis treats 0 as "no expiration"
	return max(ttl, 0)
}

func (r *Redis[V]) scanDelete(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return n, err
		}
		if len(keys) > 0 {
			deleted, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return n, err
			}
			n += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

var _ Store[any] = (*Redis[any])(nil)
