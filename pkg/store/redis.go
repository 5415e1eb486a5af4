package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	r "gopkg.in/redis.v5"
)

const keyPrefix = "memoir:"

// RedisKV implements KV on top of a redis client. All keys are namespaced
// under a common prefix. The redis.v5 client is not context-aware, so the
// context is only checked before each call; redis's own dial/read timeouts
// bound the blocking time.
type RedisKV struct {
	client *r.Client
}

var _ KV = (*RedisKV)(nil)

func NewRedisKV(url string) (*RedisKV, error) {
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}

	return &RedisKV{client: r.NewClient(opts)}, nil
}

// NewRedisKVFromClient wraps an existing client, mostly for tests.
func NewRedisKVFromClient(client *r.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (c *RedisKV) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping checks connectivity; used at startup to fail fast on a bad URL.
func (c *RedisKV) Ping() error {
	if c.client == nil {
		return ErrNotInitialized
	}
	if err := c.client.Ping().Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (c *RedisKV) check(ctx context.Context) error {
	if c.client == nil {
		return ErrNotInitialized
	}
	return ctx.Err()
}

func wrapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if err == r.Nil {
		return ErrNotFound
	}
	return errors.Wrap(ErrStoreUnavailable, err.Error())
}

func (c *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	b, err := c.client.Get(keyPrefix + key).Bytes()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	return b, nil
}

func (c *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return wrapRedisErr(c.client.Set(keyPrefix+key, value, ttl).Err())
}

func (c *RedisKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}
	ok, err := c.client.SetNX(keyPrefix+key, value, ttl).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return ok, nil
}

func (c *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	return wrapRedisErr(c.client.Del(prefixed...).Err())
}

func (c *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return wrapRedisErr(c.client.Expire(keyPrefix+key, ttl).Err())
}

func (c *RedisKV) RPush(ctx context.Context, key string, values ...string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return wrapRedisErr(c.client.RPush(keyPrefix+key, args...).Err())
}

func (c *RedisKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	out, err := c.client.LRange(keyPrefix+key, start, stop).Result()
	if err != nil {
		if err == r.Nil {
			return nil, nil
		}
		return nil, wrapRedisErr(err)
	}
	return out, nil
}

func (c *RedisKV) LLen(ctx context.Context, key string) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	n, err := c.client.LLen(keyPrefix + key).Result()
	if err != nil {
		if err == r.Nil {
			return 0, nil
		}
		return 0, wrapRedisErr(err)
	}
	return n, nil
}

func (c *RedisKV) LRem(ctx context.Context, key string, value string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	err := c.client.LRem(keyPrefix+key, 0, value).Err()
	if err != nil && err != r.Nil {
		return wrapRedisErr(err)
	}
	return nil
}
