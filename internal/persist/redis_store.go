package persist

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the engine's keys in Redis, for fleet installations
// where the vehicle unit shares state with depot tooling. Selected when
// REDIS_ADDR is configured, same fallback chain as the rest of the stack.
type RedisStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

func NewRedisStore(addr, password, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if prefix == "" {
		prefix = "driversync"
	}
	return &RedisStore{client: c, prefix: prefix, ctx: context.Background()}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) Get(key string) (string, bool, error) {
	v, err := s.client.Get(s.ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(key, value string) error {
	return s.client.Set(s.ctx, s.key(key), value, 0).Err()
}

func (s *RedisStore) Delete(key string) error {
	return s.client.Del(s.ctx, s.key(key)).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
