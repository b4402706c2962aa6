package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// Lifetime is how long a freshly issued token is valid.
	Lifetime = 24 * time.Hour
	// RefreshBuffer is the margin before expiry inside which a token is
	// no longer handed out.
	RefreshBuffer = time.Hour
	// FailureCooldown is how long authentication stays blocked after a failure.
	FailureCooldown = 30 * time.Minute
)

// CredentialSource yields the credentials to authenticate with.
type CredentialSource interface {
	Credentials(ctx context.Context) (shipper.Credentials, error)
}

// RefreshObserver records token refresh outcomes.
type RefreshObserver interface {
	ObserveTokenRefresh(result string)
}

// Option configures a Cache.
type Option func(*Cache)

// WithKey overrides the settings key.
func WithKey(key string) Option {
	return func(c *Cache) { c.key = key }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithObserver records refresh outcomes.
func WithObserver(o RefreshObserver) Option {
	return func(c *Cache) { c.observer = o }
}

// Cache serves a valid provider token. It is the only caller of the
// provider's authentication endpoint.
type Cache struct {
	store    Store
	auth     shipper.Authenticator
	creds    CredentialSource
	logger   *otelzap.Logger
	key      string
	now      func() time.Time
	observer RefreshObserver

	group   singleflight.Group
	refresh sync.Mutex

	lastMu sync.RWMutex
	last   *Entry
}

// NewCache creates a token cache.
func NewCache(store Store, auth shipper.Authenticator, creds CredentialSource, logger *otelzap.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		auth:   auth,
		creds:  creds,
		logger: logger,
		key:    DefaultKey,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetValidToken returns a token with at least RefreshBuffer of validity
// left, refreshing it when needed. During a failure cooldown it returns
// shipper.ErrAuthCooldown without contacting the provider.
func (c *Cache) GetValidToken(ctx context.Context) (string, error) {
	now := c.now()
	entry := c.current(ctx)
	if entry.CoolingDown(now) {
		c.observe("cooldown")
		return "", shipper.ErrAuthCooldown
	}
	if entry.Usable(now, RefreshBuffer) {
		return entry.Token, nil
	}

	v, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		return c.refreshSerialized(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops rejected, a token the provider refused, so the next call
// refreshes. The entry is only cleared while it still holds rejected; a
// cooldown or a newer token recorded by another process is left untouched.
// Shared stores are checked and cleared under the refresh lock.
func (c *Cache) Invalidate(ctx context.Context, rejected string) {
	if rejected == "" {
		return
	}
	c.refresh.Lock()
	defer c.refresh.Unlock()

	locker, ok := c.store.(Locker)
	if !ok {
		c.clearIfHeld(ctx, rejected)
		return
	}
	err := locker.WithLock(ctx, c.key, func(ctx context.Context) error {
		c.clearIfHeld(ctx, rejected)
		return nil
	})
	if err != nil {
		c.logger.Ctx(ctx).Warn("Token refresh lock unavailable, keeping rejected token", zap.Error(err))
	}
}

func (c *Cache) clearIfHeld(ctx context.Context, rejected string) {
	entry := c.current(ctx)
	if entry == nil || entry.CoolingDown(c.now()) || entry.Token != rejected {
		return
	}
	c.write(ctx, Entry{})
}

func (c *Cache) refreshSerialized(ctx context.Context) (string, error) {
	c.refresh.Lock()
	defer c.refresh.Unlock()

	locker, ok := c.store.(Locker)
	if !ok {
		return c.refreshLocked(ctx)
	}

	var (
		tok string
		ran bool
		err error
	)
	lockErr := locker.WithLock(ctx, c.key, func(ctx context.Context) error {
		ran = true
		tok, err = c.refreshLocked(ctx)
		return err
	})
	if !ran {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		c.logger.Ctx(ctx).Warn("Token refresh lock unavailable, refreshing without it", zap.Error(lockErr))
		return c.refreshLocked(ctx)
	}
	return tok, err
}

// refreshLocked re-reads the entry so a refresh or failure recorded by
// another caller while this one waited is honoured.
func (c *Cache) refreshLocked(ctx context.Context) (string, error) {
	now := c.now()
	entry := c.current(ctx)
	if entry.CoolingDown(now) {
		c.observe("cooldown")
		return "", shipper.ErrAuthCooldown
	}
	if entry.Usable(now, RefreshBuffer) {
		return entry.Token, nil
	}

	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return "", err
	}

	c.logger.Ctx(ctx).Info("Refreshing provider token")
	tok, err := c.auth.Authenticate(ctx, creds)
	if err == nil && (tok == nil || tok.Token == "") {
		err = errors.New("empty token")
	}
	if err != nil {
		// A caller giving up is not the provider rejecting us.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		until := c.now().Add(FailureCooldown).UnixMilli()
		c.write(ctx, Entry{Failed: true, FailureExpiryEpochMs: &until})
		c.observe("failure")
		c.logger.Ctx(ctx).Error("Provider authentication failed, cooling down",
			zap.Error(err),
			zap.Duration("cooldown", FailureCooldown),
		)
		return "", fmt.Errorf("%w: %w", shipper.ErrAuthFailed, err)
	}

	c.write(ctx, Entry{Token: tok.Token, IssuedExpiryEpochMs: c.now().Add(Lifetime).UnixMilli()})
	c.observe("success")
	return tok.Token, nil
}

// current returns the effective entry: the stored one, or the last one
// this cache saw when the store cannot be read or a cooldown it recorded
// was not persisted.
func (c *Cache) current(ctx context.Context) *Entry {
	c.lastMu.RLock()
	last := c.last
	c.lastMu.RUnlock()

	entry, err := c.store.Get(ctx, c.key)
	switch {
	case errors.Is(err, ErrNotFound):
		entry = nil
	case err != nil:
		c.logger.Ctx(ctx).Warn("Token store read failed", zap.Error(err))
		return last
	}

	now := c.now()
	if last.CoolingDown(now) && !entry.Usable(now, RefreshBuffer) {
		return last
	}
	return entry
}

// write persists entry. Failures are logged; the in-memory copy is kept
// either way.
func (c *Cache) write(ctx context.Context, entry Entry) {
	c.lastMu.Lock()
	c.last = copyEntry(entry)
	c.lastMu.Unlock()

	if err := c.store.Upsert(ctx, c.key, entry); err != nil {
		c.logger.Ctx(ctx).Warn("Token store write failed", zap.Error(err))
	}
}

func (c *Cache) observe(result string) {
	if c.observer != nil {
		c.observer.ObserveTokenRefresh(result)
	}
}
