package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultMaxRetries = 64

// RedisStore implements Store on Redis. Update uses WATCH/MULTI/EXEC so the
// read-modify-write is atomic across every API instance sharing the server.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	maxRetries int
}

// NewRedisStore namespaces every key under prefix (e.g. "gate").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, maxRetries: defaultMaxRetries}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	k := s.key(key)
	var written []byte

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			cur, found = nil, false
		} else if err != nil {
			return err
		}

		next, ttl, err := fn(cur, found)
		if err != nil {
			return err
		}
		if ttl < 0 {
			ttl = 0
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if next == nil {
				p.Del(ctx, k)
				return nil
			}
			p.Set(ctx, k, next, ttl)
			return nil
		})
		if err == nil {
			written = next
		}
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return written, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			backoff := time.Duration(i+1) * time.Millisecond
			if backoff > 10*time.Millisecond {
				backoff = 10 * time.Millisecond
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
