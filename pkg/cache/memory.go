package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

type item[V any] struct {
	value  V
	expire time.Time // zero = never
}

func (it item[V]) expired(now time.Time) bool {
	return !it.expire.IsZero() && !now.Before(it.expire)
}

// MemoryOption configures a Memory store.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	defaultTTL time.Duration
	sweep      time.Duration
}

// WithDefaultTTL sets the expiry used when Set gets a zero TTL.
// Default: 5 minutes.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if d != 0 {
			o.defaultTTL = d
		}
	}
}

// WithSweepInterval sets how often expired entries are removed.
// Zero disables the background sweep; Recycle can still be called directly.
// Default: 1 minute.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.sweep = d
	}
}

// Memory is a process local store. Expired entries are invisible to Get and
// are physically removed by the sweep, which fires the expire callback.
type Memory[V any] struct {
	items    map[string]item[V]
	opts     memoryOptions
	onExpire func(key string, value V)
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
}

// NewMemory creates an in-memory store and starts its sweep.
//
//	c := cache.NewMemory[[]byte](cache.WithSweepInterval(time.Minute))
//	defer c.Close()
func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	o := memoryOptions{defaultTTL: DefaultExpire, sweep: time.Minute}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Memory[V]{
		items: make(map[string]item[V]),
		opts:  o,
		done:  make(chan struct{}),
	}
	if o.sweep > 0 {
		go m.sweep()
	}
	return m
}

// OnExpire registers a callback invoked for each entry the sweep removes.
func (m *Memory[V]) OnExpire(fn func(key string, value V)) {
	m.mu.Lock()
	m.onExpire = fn
	m.mu.Unlock()
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok || it.expired(time.Now()) {
		var zero V
		return zero, ErrNotFound
	}
	return it.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.items[key] = item[V]{value: value, expire: m.expiry(ttl)}
	return nil
}

func (m *Memory[V]) SetExpire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	it, ok := m.items[key]
	if !ok {
		return ErrNotFound
	}
	it.expire = m.expiry(ttl)
	m.items[key] = it
	return nil
}

func (m *Memory[V]) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.items, key)
	return nil
}

func (m *Memory[V]) RemoveMatching(_ context.Context, substr string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for key := range m.items {
		if strings.Contains(key, substr) {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.items = make(map[string]item[V])
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops the sweep. It is idempotent.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}

// Recycle removes expired entries now and returns how many were removed.
func (m *Memory[V]) Recycle() int {
	now := time.Now()

	m.mu.Lock()
	var gone []string
	var values []V
	for key, it := range m.items {
		if it.expired(now) {
			gone = append(gone, key)
			values = append(values, it.value)
			delete(m.items, key)
		}
	}
	fn := m.onExpire
	m.mu.Unlock()

	if fn != nil {
		for i, key := range gone {
			fn(key, values[i])
		}
	}
	return len(gone)
}

func (m *Memory[V]) sweep() {
	ticker := time.NewTicker(m.opts.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Recycle()
		}
	}
}

func (m *Memory[V]) expiry(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = m.opts.defaultTTL
	}
	if ttl < 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

type snapshotEntry[V any] struct {
	Key    string    `json:"key"`
	Value  V         `json:"value"`
	Expire time.Time `json:"expire,omitzero"`
}

// Save writes every live entry to w as JSON.
func (m *Memory[V]) Save(w io.Writer) error {
	now := time.Now()

	m.mu.Lock()
	entries := make([]snapshotEntry[V], 0, len(m.items))
	for key, it := range m.items {
		if it.expired(now) {
			continue
		}
		entries = append(entries, snapshotEntry[V]{Key: key, Value: it.value, Expire: it.expire})
	}
	m.mu.Unlock()

	if err := json.NewEncoder(w).Encode(entries); err != nil {
		return errors.Join(ErrSnapshot, err)
	}
	return nil
}

// Load merges a snapshot produced by Save, skipping entries that expired meanwhile.
func (m *Memory[V]) Load(r io.Reader) error {
	var entries []snapshotEntry[V]
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return errors.Join(ErrSnapshot, err)
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		it := item[V]{value: e.Value, expire: e.Expire}
		if it.expired(now) {
			continue
		}
		m.items[e.Key] = it
	}
	return nil
}

var _ Store[any] = (*Memory[any])(nil)
