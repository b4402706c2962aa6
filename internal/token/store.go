// Package token caches the provider session token in a shared settings store
// and guards the provider's authentication endpoint against lockouts.
package token

import (
	"context"
	"errors"
	"time"
)

// DefaultKey is the settings key holding the deployment's token.
const DefaultKey = "shiprocket_token"

// ErrNotFound is returned by a Store when the key has no entry.
var ErrNotFound = errors.New("token: entry not found")

// Entry is the persisted token state.
type Entry struct {
	Token                string `json:"token"`
	IssuedExpiryEpochMs  int64  `json:"issuedExpiryEpochMs"`
	Failed               bool   `json:"failed"`
	FailureExpiryEpochMs *int64 `json:"failureExpiryEpochMs"`
}

// CoolingDown reports whether a recent authentication failure forbids
// calling the provider at now.
func (e *Entry) CoolingDown(now time.Time) bool {
	return e != nil && e.Failed && e.FailureExpiryEpochMs != nil && now.UnixMilli() < *e.FailureExpiryEpochMs
}

// Usable reports whether the token can be handed out at now, leaving at
// least buffer before it expires.
func (e *Entry) Usable(now time.Time, buffer time.Duration) bool {
	return e != nil && !e.Failed && e.Token != "" && now.UnixMilli() < e.IssuedExpiryEpochMs-buffer.Milliseconds()
}

// Store is the external settings store.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Upsert(ctx context.Context, key string, entry Entry) error
}

// Locker is implemented by stores shared across processes so that token
// refreshes are serialized cluster-wide.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}
