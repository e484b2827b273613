package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"archcritic/pkg/config"
	"archcritic/pkg/provider"
	"archcritic/pkg/vision"
)

// needsRedis reports whether any configured backend talks to redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.Quota.Backend == config.BackendRedis || cfg.Cache.Backend == config.BackendRedis
}

// openRedis connects when a backend needs it. It returns nil when nothing does.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !needsRedis(cfg) {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis backend selected but redis.addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}

	return client, nil
}

func newResultCache(cfg config.CacheConfig, client redis.Cmdable) (vision.ResultCache, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return vision.NewMemoryCache(), nil
	case config.BackendRedis:
		if client == nil {
			return nil, errors.New("cache backend redis requires redis.addr")
		}
		return vision.NewRedisCache(client, cfg.KeyPrefix, time.Duration(cfg.TTLSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

func newAnalyzer(cfg *config.Config, client provider.Client, redisClient redis.Cmdable) (*vision.Analyzer, error) {
	cache, err := newResultCache(cfg.Cache, redisClient)
	if err != nil {
		return nil, err
	}

	opts := append(vision.OptionsFromConfig(cfg.Vision), vision.WithCache(cache))
	return vision.New(client, opts...)
}

// cmdable avoids handing a typed nil client to the backends.
func cmdable(client *redis.Client) redis.Cmdable {
	if client == nil {
		return nil
	}

	return client
}

func closeRedis(client *redis.Client) {
	if client != nil {
		_ = client.Close()
	}
}
