package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "archcritic:key:"

const (
	fieldKey       = "key"
	fieldRemaining = "remaining"
	fieldCreatedAt = "created_at"
)

const missingKeySentinel = -2

// decrementScript applies the decrement rules atomically inside Redis.
var decrementScript = redis.NewScript(`
local remaining = redis.call('HGET', KEYS[1], 'remaining')
if not remaining then
  return -2
end
remaining = tonumber(remaining)
if remaining == -1 then
  return -1
end
if remaining <= 0 then
  return 0
end
return redis.call('HINCRBY', KEYS[1], 'remaining', -1)
`)

// RedisStore keeps one hash per key. Decrements are atomic across processes.
type RedisStore struct {
	redis  redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}

	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Key, error) {
	fields, err := s.redis.HGetAll(ctx, s.hashKey(key)).Result()
	if err != nil {
		return Key{}, fmt.Errorf("read key: %w", err)
	}
	if len(fields) == 0 {
		return Key{}, ErrKeyNotFound
	}

	remaining, err := strconv.Atoi(fields[fieldRemaining])
	if err != nil {
		return Key{}, fmt.Errorf("parse remaining for key: %w", err)
	}
	createdAt, _ := strconv.ParseFloat(fields[fieldCreatedAt], 64)

	return Key{Key: key, Remaining: remaining, CreatedAt: createdAt}, nil
}

func (s *RedisStore) Decrement(ctx context.Context, key string) (int, error) {
	remaining, err := decrementScript.Run(ctx, s.redis, []string{s.hashKey(key)}).Int()
	if err != nil {
		return 0, fmt.Errorf("decrement key: %w", err)
	}
	if remaining == missingKeySentinel {
		return 0, ErrKeyNotFound
	}

	return remaining, nil
}

func (s *RedisStore) Generate(ctx context.Context, count int, quota int) ([]string, error) {
	if err := validateGenerate(count, quota); err != nil {
		return nil, err
	}

	createdAt := strconv.FormatFloat(unixNow(s.now()), 'f', -1, 64)
	generated := make([]string, 0, count)
	for range count {
		key, err := NewKey()
		if err != nil {
			return nil, err
		}
		generated = append(generated, key)
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range generated {
			pipe.HSet(ctx, s.hashKey(key), fieldKey, key, fieldRemaining, quota, fieldCreatedAt, createdAt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store generated keys: %w", err)
	}

	storeLogger().Info("keys generated", "count", count, "quota", quota, "backend", "redis")
	return generated, nil
}

func (s *RedisStore) GenerateUnlimited(ctx context.Context) (string, error) {
	keys, err := s.Generate(ctx, 1, Unlimited)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", errors.New("no key generated")
	}

	return keys[0], nil
}

func (s *RedisStore) hashKey(key string) string {
	return s.prefix + key
}
