package fulfillment

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPacing is the minimum spacing between provider-bound orders.
const DefaultPacing = 500 * time.Millisecond

// Pacer runs at most one job at a time and spaces job starts by a fixed
// interval. One Pacer is shared by everything that fulfills orders in bulk.
type Pacer struct {
	slot    chan struct{}
	limiter *rate.Limiter
}

// NewPacer creates a Pacer. A non-positive spacing disables the delay but
// keeps jobs sequential.
func NewPacer(spacing time.Duration) *Pacer {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Pacer{
		slot:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Do waits for the slot and the spacing interval, then runs fn.
func (p *Pacer) Do(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slot }()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	fn(ctx)
	return nil
}
