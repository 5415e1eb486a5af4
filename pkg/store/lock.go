package store

import (
	"bytes"
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/conversation"
)

// SessionLocker provides coarse per-session mutual exclusion through the KV.
// The lock key's TTL bounds maximum hold time, so a crashed holder cannot
// deadlock the session forever. Acquisition polls SetNX with jittered sleeps
// until the bounded wait elapses.
type SessionLocker struct {
	kv KV
	// ttl bounds how long a holder may keep the lock before it expires.
	ttl time.Duration
	// wait bounds how long Acquire polls before failing with ErrLockTimeout.
	wait time.Duration
}

type LockerOption func(*SessionLocker)

func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *SessionLocker) {
		l.ttl = ttl
	}
}

func WithLockWait(wait time.Duration) LockerOption {
	return func(l *SessionLocker) {
		l.wait = wait
	}
}

func NewSessionLocker(kv KV, options ...LockerOption) *SessionLocker {
	ret := &SessionLocker{
		kv:   kv,
		ttl:  10 * time.Second,
		wait: 3 * time.Second,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Lock is a held session lock. Release is safe to call from a defer even if
// the surrounding operation failed.
type Lock struct {
	kv    KV
	key   string
	token []byte
}

// Acquire takes the session lock or fails with ErrLockTimeout after the
// bounded wait. The returned lock must be released by the caller.
func (l *SessionLocker) Acquire(ctx context.Context, sessionID conversation.SessionID) (*Lock, error) {
	key := lockKey(sessionID)
	token := []byte(uuid.NewString())
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.kv.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, errors.Wrap(err, "acquiring session lock")
		}
		if ok {
			log.Trace().Str("session_id", sessionID.String()).Msg("session lock acquired")
			return &Lock{kv: l.kv, key: key, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.Wrapf(ErrLockTimeout, "session %s", sessionID)
		}

		sleep := 10*time.Millisecond + time.Duration(rand.Int63n(int64(20*time.Millisecond)))
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for session lock")
		case <-time.After(sleep):
		}
	}
}

// Release frees the lock if we still hold it. A token mismatch means the
// lock expired and was re-acquired by someone else; in that case we leave it
// alone and log, since deleting it would steal the new holder's lock.
func (lk *Lock) Release(ctx context.Context) {
	current, err := lk.kv.Get(ctx, lk.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("key", lk.key).Msg("failed to read lock key on release")
		}
		return
	}
	if !bytes.Equal(current, lk.token) {
		log.Warn().Str("key", lk.key).Msg("lock token mismatch on release, lock was taken over")
		return
	}
	if err := lk.kv.Delete(ctx, lk.key); err != nil {
		log.Warn().Err(err).Str("key", lk.key).Msg("failed to release session lock")
	}
}
