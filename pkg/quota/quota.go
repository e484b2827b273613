// Package quota tracks access keys and how many analyses each one has left.
package quota

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"archcritic/pkg/config"
)

// Unlimited marks a key that is never decremented.
const Unlimited = -1

const keyEntropyBytes = 24

var ErrKeyNotFound = errors.New("quota key not found")

// Key is one access key. CreatedAt is unix seconds.
type Key struct {
	Key       string  `json:"key"`
	Remaining int     `json:"remaining"`
	CreatedAt float64 `json:"created_at"`
}

func (k Key) Unlimited() bool {
	return k.Remaining == Unlimited
}

func (k Key) Exhausted() bool {
	return !k.Unlimited() && k.Remaining <= 0
}

func (k Key) Created() time.Time {
	seconds, fraction := math.Modf(k.CreatedAt)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second)))
}

// Store is the key bookkeeping backend.
//
// Decrement returns the new remaining count. Unlimited keys return Unlimited and keys already at
// zero return 0; neither is written back. An unknown key fails with ErrKeyNotFound.
type Store interface {
	Get(ctx context.Context, key string) (Key, error)
	Decrement(ctx context.Context, key string) (int, error)
	Generate(ctx context.Context, count int, quota int) ([]string, error)
	GenerateUnlimited(ctx context.Context) (string, error)
}

// FromConfig opens the configured backend. redisClient is only used by the redis backend.
func FromConfig(cfg config.QuotaConfig, redisClient redis.Cmdable) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		return NewFileStore(cfg.Path), nil
	case config.BackendRedis:
		if redisClient == nil {
			return nil, errors.New("quota backend redis requires redis.addr")
		}
		return NewRedisStore(redisClient, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported quota backend: %s", cfg.Backend)
	}
}

// NewKey returns a URL-safe random key string.
func NewKey() (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func unixNow(now time.Time) float64 {
	return float64(now.UnixNano()) / float64(time.Second)
}

func validateGenerate(count int, quota int) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	if quota <= 0 && quota != Unlimited {
		return fmt.Errorf("quota must be positive, got %d", quota)
	}

	return nil
}
