package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	list      []string
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryKV is a thread-safe in-memory KV with per-key TTLs. It mirrors the
// redis surface closely enough that tests and single-process deployments can
// run without a redis instance. Expired keys are dropped lazily on access.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	closed  bool
}

var _ KV = (*MemoryKV)(nil)

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: map[string]*memoryEntry{},
	}
}

// Close marks the store as closed; all subsequent operations fail with
// ErrNotInitialized.
func (m *MemoryKV) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
}

func (m *MemoryKV) get(key string) (*memoryEntry, error) {
	if m.closed {
		return nil, ErrNotInitialized
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(time.Now()) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotInitialized
	}
	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrNotInitialized
	}
	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return true, nil
}

func (m *MemoryKV) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotInitialized
	}
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(key)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

func (m *MemoryKV) RPush(ctx context.Context, key string, values ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotInitialized
	}
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	e.list = append(e.list, values...)
	return nil
}

func (m *MemoryKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(key)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}

	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

func (m *MemoryKV) LLen(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrNotInitialized
	}
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

func (m *MemoryKV) LRem(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(key)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	out := e.list[:0]
	for _, v := range e.list {
		if v != value {
			out = append(out, v)
		}
	}
	e.list = out
	return nil
}
