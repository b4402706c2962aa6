package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// DefaultLockTTL bounds how long a crashed holder can block refreshes. It
// must outlast a full authentication round trip.
const DefaultLockTTL = 2 * time.Minute

// LockTTLFor returns a lock expiry that outlasts an authentication request
// bounded by requestTimeout, with DefaultLockTTL as the floor.
func LockTTLFor(requestTimeout time.Duration) time.Duration {
	if ttl := 4 * requestTimeout; ttl > DefaultLockTTL {
		return ttl
	}
	return DefaultLockTTL
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithLockTTL sets the refresh lock expiry. Non-positive values keep the
// default.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// RedisStore keeps entries as JSON strings in Redis and provides a
// SET NX based refresh lock.
type RedisStore struct {
	client       *redis.Client
	prefix       string
	lockTTL      time.Duration
	retryBackoff time.Duration
}

// NewRedisStore creates a store on client. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:       client,
		prefix:       prefix,
		lockTTL:      DefaultLockTTL,
		retryBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL parses url and connects.
func NewRedisStoreFromURL(ctx context.Context, url, prefix string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, prefix, opts...), nil
}

// Get returns the entry for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode token entry: %w", err)
	}
	return &e, nil
}

// Upsert stores entry under key without expiry; validity lives in the entry.
func (s *RedisStore) Upsert(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, 0).Err()
}

// WithLock runs fn while holding a lock on key. The lock is released even
// when fn fails and expires on its own if the holder dies.
func (s *RedisStore) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	lockKey := s.prefix + key + ":lock"
	owner := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, lockKey, owner, s.lockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			defer s.release(context.Background(), lockKey, owner)
			return fn(ctx)
		}
		timer := time.NewTimer(s.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// release deletes the lock only while owner still holds it. If the script
// fails the lock is left to expire.
func (s *RedisStore) release(ctx context.Context, key, owner string) {
	_ = s.client.Eval(ctx, releaseScript, []string{key}, owner).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisStore)(nil)
)
