package token_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/token"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakeAuth struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeAuth) Authenticate(ctx context.Context, creds shipper.Credentials) (*shipper.AuthToken, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &shipper.AuthToken{Token: "tok-" + string(rune('0'+n))}, nil
}

type staticCreds struct {
	creds shipper.Credentials
	err   error
}

func (s staticCreds) Credentials(context.Context) (shipper.Credentials, error) {
	return s.creds, s.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type flakyStore struct {
	*token.MemoryStore
	failReads  atomic.Bool
	failWrites atomic.Bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (*token.Entry, error) {
	if s.failReads.Load() {
		return nil, errors.New("store down")
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Upsert(ctx context.Context, key string, e token.Entry) error {
	if s.failWrites.Load() {
		return errors.New("store down")
	}
	return s.MemoryStore.Upsert(ctx, key, e)
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) ObserveTokenRefresh(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

var goodCreds = staticCreds{creds: shipper.Credentials{Email: "ops@example.com", Password: "pw"}}

func newCache(store token.Store, auth shipper.Authenticator, clk *clock, opts ...token.Option) *token.Cache {
	opts = append(opts, token.WithClock(clk.Now))
	return token.NewCache(store, auth, goodCreds, otelzap.New(zap.NewNop()), opts...)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestGetValidToken_RefreshesWhenEmpty(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{}
	clk := newClock()
	cache := newCache(store, auth, clk)

	tok, err := cache.GetValidToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), auth.calls.Load())

	stored, err := store.Get(context.Background(), token.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored.Token)
	assert.False(t, stored.Failed)
	assert.Equal(t, clk.Now().Add(24*time.Hour).UnixMilli(), stored.IssuedExpiryEpochMs)
}

func TestGetValidToken_ServesCachedToken(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{}
	clk := newClock()
	cache := newCache(store, auth, clk)

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	clk.Advance(22 * time.Hour)
	tok, err := cache.GetValidToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestGetValidToken_BufferForcesRefresh(t *testing.T) {
	store := token.NewMemoryStore()
	clk := newClock()
	require.NoError(t, store.Upsert(context.Background(), token.DefaultKey, token.Entry{
		Token:               "old",
		IssuedExpiryEpochMs: clk.Now().Add(30 * time.Minute).UnixMilli(),
	}))
	auth := &fakeAuth{}
	cache := newCache(store, auth, clk)

	tok, err := cache.GetValidToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestGetValidToken_CooldownBlocksProvider(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{err: errors.New("invalid credentials")}
	clk := newClock()
	obs := &countingObserver{}
	cache := newCache(store, auth, clk, token.WithObserver(obs))
	ctx := context.Background()

	_, err := cache.GetValidToken(ctx)
	require.True(t, errors.Is(err, shipper.ErrAuthFailed))
	assert.Contains(t, err.Error(), "invalid credentials")

	for i := 0; i < 5; i++ {
		clk.Advance(5 * time.Minute)
		_, err = cache.GetValidToken(ctx)
		assert.True(t, errors.Is(err, shipper.ErrAuthCooldown))
	}
	assert.Equal(t, int32(1), auth.calls.Load())

	stored, err := store.Get(ctx, token.DefaultKey)
	require.NoError(t, err)
	assert.True(t, stored.Failed)
	require.NotNil(t, stored.FailureExpiryEpochMs)

	clk.Advance(6 * time.Minute)
	auth.err = nil
	tok, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, int32(2), auth.calls.Load())
	assert.Equal(t, map[string]int{"failure": 1, "cooldown": 5, "success": 1}, obs.results)
}

func TestGetValidToken_MissingCredentialsNoCooldown(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{}
	cache := token.NewCache(store, auth, staticCreds{err: shipper.ErrMissingCredentials}, otelzap.New(zap.NewNop()))

	_, err := cache.GetValidToken(context.Background())

	assert.True(t, errors.Is(err, shipper.ErrMissingCredentials))
	assert.Equal(t, int32(0), auth.calls.Load())
	_, err = store.Get(context.Background(), token.DefaultKey)
	assert.True(t, errors.Is(err, token.ErrNotFound))
}

func TestGetValidToken_WriteFailureStillServesToken(t *testing.T) {
	store := &flakyStore{MemoryStore: token.NewMemoryStore()}
	store.failWrites.Store(true)
	auth := &fakeAuth{}
	cache := newCache(store, auth, newClock())

	tok, err := cache.GetValidToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestGetValidToken_CooldownSurvivesStoreFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: token.NewMemoryStore()}
	store.failWrites.Store(true)
	auth := &fakeAuth{err: errors.New("locked")}
	clk := newClock()
	cache := newCache(store, auth, clk)
	ctx := context.Background()

	_, err := cache.GetValidToken(ctx)
	require.True(t, errors.Is(err, shipper.ErrAuthFailed))

	// the cooldown was never persisted
	_, err = cache.GetValidToken(ctx)
	assert.True(t, errors.Is(err, shipper.ErrAuthCooldown))

	store.failReads.Store(true)
	_, err = cache.GetValidToken(ctx)
	assert.True(t, errors.Is(err, shipper.ErrAuthCooldown))
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestGetValidToken_ConcurrentCallersShareRefresh(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{delay: 20 * time.Millisecond}
	cache := newCache(store, auth, newClock())

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.GetValidToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

func TestGetValidToken_ConcurrentFailuresKeepCooldown(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{err: errors.New("bad password"), delay: 10 * time.Millisecond}
	cache := newCache(store, auth, newClock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetValidToken(context.Background())
			assert.True(t, errors.Is(err, shipper.ErrAuthFailed) || errors.Is(err, shipper.ErrAuthCooldown))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.calls.Load())
	stored, err := store.Get(context.Background(), token.DefaultKey)
	require.NoError(t, err)
	assert.True(t, stored.Failed)
}

func TestInvalidate(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{}
	cache := newCache(store, auth, newClock())
	ctx := context.Background()

	_, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	cache.Invalidate(ctx, "tok-1")

	tok, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestInvalidate_IgnoresStaleToken(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{}
	cache := newCache(store, auth, newClock())
	ctx := context.Background()

	_, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	cache.Invalidate(ctx, "tok-0")

	tok, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), auth.calls.Load())
}

// lockingStore is a shared store whose next Get can be held open, letting
// a test interleave caches that stand in for separate processes.
type lockingStore struct {
	*token.MemoryStore
	lock    sync.Mutex
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (s *lockingStore) Get(ctx context.Context, key string) (*token.Entry, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.release
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *lockingStore) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn(ctx)
}

func TestInvalidate_ConcurrentCooldownSurvives(t *testing.T) {
	store := &lockingStore{
		MemoryStore: token.NewMemoryStore(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	clk := newClock()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, token.DefaultKey, token.Entry{
		Token:               "tok-old",
		IssuedExpiryEpochMs: clk.Now().Add(token.Lifetime).UnixMilli(),
	}))

	first := newCache(store, &fakeAuth{}, clk)
	second := newCache(store, &fakeAuth{err: errors.New("invalid credentials")}, clk)

	store.armed.Store(true)
	firstDone := make(chan struct{})
	go func() {
		first.Invalidate(ctx, "tok-old")
		close(firstDone)
	}()
	<-store.reached

	secondDone := make(chan error, 1)
	go func() {
		second.Invalidate(ctx, "tok-old")
		_, err := second.GetValidToken(ctx)
		secondDone <- err
	}()

	select {
	case <-secondDone:
		t.Fatal("second cache ran while the first held the refresh lock")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	<-firstDone
	assert.ErrorIs(t, <-secondDone, shipper.ErrAuthFailed)

	stored, err := store.Get(ctx, token.DefaultKey)
	require.NoError(t, err)
	assert.True(t, stored.CoolingDown(clk.Now()))

	thirdAuth := &fakeAuth{}
	third := newCache(store, thirdAuth, clk)
	_, err = third.GetValidToken(ctx)
	assert.ErrorIs(t, err, shipper.ErrAuthCooldown)
	assert.Zero(t, thirdAuth.calls.Load())
}

func TestInvalidate_KeepsCooldown(t *testing.T) {
	store := token.NewMemoryStore()
	auth := &fakeAuth{err: errors.New("nope")}
	cache := newCache(store, auth, newClock())
	ctx := context.Background()

	_, _ = cache.GetValidToken(ctx)
	cache.Invalidate(ctx, "tok-1")

	_, err := cache.GetValidToken(ctx)
	assert.True(t, errors.Is(err, shipper.ErrAuthCooldown))
}

func TestEntry_Predicates(t *testing.T) {
	now := time.UnixMilli(1_000_000_000)
	until := now.Add(time.Minute).UnixMilli()
	past := now.Add(-time.Minute).UnixMilli()

	var nilEntry *token.Entry
	assert.False(t, nilEntry.CoolingDown(now))
	assert.False(t, nilEntry.Usable(now, time.Hour))

	assert.True(t, (&token.Entry{Failed: true, FailureExpiryEpochMs: &until}).CoolingDown(now))
	assert.False(t, (&token.Entry{Failed: true, FailureExpiryEpochMs: &past}).CoolingDown(now))
	assert.False(t, (&token.Entry{Failed: true}).CoolingDown(now))

	ok := &token.Entry{Token: "t", IssuedExpiryEpochMs: now.Add(61 * time.Minute).UnixMilli()}
	assert.True(t, ok.Usable(now, time.Hour))
	edge := &token.Entry{Token: "t", IssuedExpiryEpochMs: now.Add(time.Hour).UnixMilli()}
	assert.False(t, edge.Usable(now, time.Hour))
}
