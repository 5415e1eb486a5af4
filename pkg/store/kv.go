package store

import (
	"context"
	"time"
)

// KV is the minimal key/value + ordered-list surface the session store needs.
// Implementations are TTL-bounded caches: keys may expire, and Get on an
// expired or missing key returns ErrNotFound.
//
// List keys hold order-preserving string lists (message id indices, history
// logs). Push order is the only ordering guarantee a KV makes.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets the key only if it does not exist. Returns true if the key
	// was set. Used for the per-session lock.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	RPush(ctx context.Context, key string, values ...string) error
	// LRange returns the list slice [start, stop], both inclusive, with
	// negative indices counting from the end (redis semantics).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	// LRem removes all occurrences of value from the list.
	LRem(ctx context.Context, key string, value string) error
}
