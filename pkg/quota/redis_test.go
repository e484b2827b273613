package quota

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore runs against an in-process miniredis unless ARCHCRITIC_TEST_REDIS_ADDR
// points at a real server.
func newTestRedisStore(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("ARCHCRITIC_TEST_REDIS_ADDR"))
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	prefix := "archcritic:test:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})

	return NewRedisStore(client, prefix), client
}

func TestRedisStoreDecrementRules(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	keys, err := store.Generate(ctx, 1, 2)
	require.NoError(t, err)

	for _, want := range []int{1, 0, 0} {
		got, err := store.Decrement(ctx, keys[0])
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	unlimited, err := store.GenerateUnlimited(ctx)
	require.NoError(t, err)
	got, err := store.Decrement(ctx, unlimited)
	require.NoError(t, err)
	require.Equal(t, Unlimited, got)

	info, err := store.Get(ctx, unlimited)
	require.NoError(t, err)
	require.True(t, info.Unlimited())

	_, err = store.Decrement(ctx, "missing")
	require.True(t, errors.Is(err, ErrKeyNotFound))
	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisStoreConcurrentDecrementsAreAtomic(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	keys, err := store.Generate(ctx, 1, 25)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Decrement(ctx, keys[0]); err != nil {
				t.Errorf("Decrement error: %v", err)
			}
		}()
	}
	wg.Wait()

	info, err := store.Get(ctx, keys[0])
	require.NoError(t, err)
	require.Equal(t, 0, info.Remaining)
}
