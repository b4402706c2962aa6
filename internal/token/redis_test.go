package token_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/token"
)

func newRedisStore(t *testing.T) (*token.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return token.NewRedisStore(client, "fulfillment:"), mr
}

func TestRedisStore_GetNotFound(t *testing.T) {
	store, _ := newRedisStore(t)

	_, err := store.Get(context.Background(), token.DefaultKey)

	assert.True(t, errors.Is(err, token.ErrNotFound))
}

func TestRedisStore_UpsertGet(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	until := int64(1234)

	require.NoError(t, store.Upsert(ctx, token.DefaultKey, token.Entry{Failed: true, FailureExpiryEpochMs: &until}))

	got, err := store.Get(ctx, token.DefaultKey)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	require.NotNil(t, got.FailureExpiryEpochMs)
	assert.Equal(t, until, *got.FailureExpiryEpochMs)

	raw, err := mr.Get("fulfillment:" + token.DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"","issuedExpiryEpochMs":0,"failed":true,"failureExpiryEpochMs":1234}`, raw)
}

func TestRedisStore_WithLockIsExclusive(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithLock(ctx, token.DefaultKey, func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, mr.Exists("fulfillment:"+token.DefaultKey+":lock"))
}

func TestRedisStore_WithLockReleasesOnError(t *testing.T) {
	store, mr := newRedisStore(t)
	boom := errors.New("boom")

	err := store.WithLock(context.Background(), "k", func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("fulfillment:k:lock"))
}

func TestRedisStore_LockOutlivesRequestTimeout(t *testing.T) {
	store, mr := newRedisStore(t)

	var ttl time.Duration
	err := store.WithLock(context.Background(), "k", func(context.Context) error {
		ttl = mr.TTL("fulfillment:k:lock")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, token.DefaultLockTTL, ttl)
	assert.Greater(t, token.LockTTLFor(30*time.Second), 30*time.Second)
	assert.Equal(t, token.DefaultLockTTL, token.LockTTLFor(30*time.Second))
	assert.Equal(t, 4*time.Minute, token.LockTTLFor(time.Minute))
}

func TestRedisStore_WithLockTTLOption(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := token.NewRedisStore(client, "p:", token.WithLockTTL(5*time.Minute))

	var ttl time.Duration
	require.NoError(t, store.WithLock(context.Background(), "k", func(context.Context) error {
		ttl = mr.TTL("p:k:lock")
		return nil
	}))

	assert.Equal(t, 5*time.Minute, ttl)
}

func TestRedisStore_ReleaseKeepsForeignLock(t *testing.T) {
	store, mr := newRedisStore(t)

	err := store.WithLock(context.Background(), "k", func(context.Context) error {
		// the lock expired and another process took it over
		return mr.Set("fulfillment:k:lock", "someone-else")
	})

	require.NoError(t, err)
	got, err := mr.Get("fulfillment:k:lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisStore_WithLockHonoursContext(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("fulfillment:k:lock", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	called := false
	err := store.WithLock(ctx, "k", func(context.Context) error { called = true; return nil })

	assert.Error(t, err)
	assert.False(t, called)
	assert.True(t, mr.Exists("fulfillment:k:lock"))
}

func TestCache_WithRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	auth := &fakeAuth{}
	clk := newClock()
	cache := newCache(store, auth, clk)
	ctx := context.Background()

	tok, err := cache.GetValidToken(ctx)
	require.NoError(t, err)

	// a second cache over the same store sees the token
	other := newCache(store, auth, clk)
	again, err := other.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, int32(1), auth.calls.Load())
}
