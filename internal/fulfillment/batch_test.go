package fulfillment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type countingObserver struct {
	mu        sync.Mutex
	states    map[string]int
	succeeded int
	failed    int
}

func (o *countingObserver) ObserveFulfillment(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.states == nil {
		o.states = make(map[string]int)
	}
	o.states[state]++
}

func (o *countingObserver) ObserveBatchEntry(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.succeeded++
	} else {
		o.failed++
	}
}

func newBatch(f *fixture, obs fulfillment.Observer) *fulfillment.BatchDriver {
	return fulfillment.NewBatchDriver(f.orch, f.store, fulfillment.NewPacer(0), otelzap.New(zap.NewNop()), obs)
}

func TestBatch_FailureDoesNotStopTheLoop(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5"}
	var seed []orders.Order
	for _, id := range ids {
		seed = append(seed, newOrder(id))
	}
	f := newFixture(t, seed...)
	f.provider.OnCreate = func(req *shipper.ShipmentRequest) (*shipper.ShipmentOutcome, error) {
		if req.OrderID == "3" {
			return nil, errors.New("provider exploded")
		}
		return &shipper.ShipmentOutcome{ProviderOrderID: "40" + req.OrderID, ProviderShipmentID: "50" + req.OrderID}, nil
	}
	obs := &countingObserver{}

	res := newBatch(f, obs).Run(context.Background(), ids, 0, nil)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Completed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.PerOrder, 5)
	for i, entry := range res.PerOrder {
		assert.Equal(t, ids[i], entry.OrderID)
		if entry.OrderID == "3" {
			assert.False(t, entry.Success)
			assert.Contains(t, entry.Message, "provider exploded")
			continue
		}
		assert.True(t, entry.Success, entry.OrderID)
		assert.NotEmpty(t, entry.Message)
	}
	assert.Equal(t, 4, obs.succeeded)
	assert.Equal(t, 1, obs.failed)
}

func TestBatch_MarksTransientFailuresRetryable(t *testing.T) {
	f := newFixture(t, newOrder("1"), newOrder("2"))
	f.provider.OnCreate = func(req *shipper.ShipmentRequest) (*shipper.ShipmentOutcome, error) {
		if req.OrderID == "1" {
			return nil, shipper.NewShipperError("mock", "HTTP_503", "maintenance").
				WithCause(shipper.ErrServiceUnavailable).
				WithRetryable(true)
		}
		return nil, errors.New("invalid pincode")
	}

	res := newBatch(f, nil).Run(context.Background(), []string{"1", "2"}, 0, nil)

	require.Len(t, res.PerOrder, 2)
	assert.True(t, res.PerOrder[0].Retryable)
	assert.False(t, res.PerOrder[1].Retryable)
	assert.Equal(t, 2, res.Failed)
}

func TestBatch_IneligibleOrdersAreExcluded(t *testing.T) {
	shipped := newOrder("2")
	shipped.Status = orders.StatusShipped
	delivered := newOrder("3")
	delivered.Status = orders.StatusDelivered
	tracked := newOrder("4")
	tracked.Status = orders.StatusProcessing
	tracked.TrackingNumber = "SR-5004"
	f := newFixture(t, newOrder("1"), shipped, delivered, tracked)

	res := newBatch(f, nil).Run(context.Background(), []string{"1", "2", "3", "4"}, 0, nil)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Completed)
	assert.Zero(t, res.Failed)
	require.Len(t, res.PerOrder, 1)
	assert.Equal(t, "1", res.PerOrder[0].OrderID)
	assert.Len(t, f.provider.Created(), 1)
}

func TestBatch_UnloadableOrdersAreFailedEntries(t *testing.T) {
	f := newFixture(t, newOrder("1"))

	res := newBatch(f, nil).Run(context.Background(), []string{"1", "ghost"}, 0, nil)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.PerOrder, 2)
	assert.Equal(t, "ghost", res.PerOrder[0].OrderID)
	assert.False(t, res.PerOrder[0].Success)
}

func TestBatch_CourierOverrideAppliesToEveryOrder(t *testing.T) {
	f := newFixture(t, newOrder("1"), newOrder("2"))

	res := newBatch(f, nil).Run(context.Background(), []string{"1", "2"}, 24, nil)

	assert.Zero(t, res.Failed)
	for _, call := range f.provider.Assigned() {
		assert.Equal(t, 24, call.CourierID)
	}
	assert.Len(t, f.provider.Assigned(), 2)
}

func TestBatch_ProgressSnapshots(t *testing.T) {
	f := newFixture(t, newOrder("1"), newOrder("2"), newOrder("3"))
	var seen []fulfillment.BatchResult

	newBatch(f, nil).Run(context.Background(), []string{"1", "2", "3"}, 0, func(r fulfillment.BatchResult) {
		seen = append(seen, r)
	})

	require.Len(t, seen, 3)
	for i, snap := range seen {
		assert.Equal(t, i+1, snap.Completed)
		assert.Len(t, snap.PerOrder, i+1)
		assert.Equal(t, 3, snap.Total)
	}
}

func TestBatch_CancelledContextStopsDispatch(t *testing.T) {
	f := newFixture(t, newOrder("1"), newOrder("2"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newBatch(f, nil).Run(ctx, []string{"1", "2"}, 0, nil)

	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.Completed)
	assert.Empty(t, f.provider.Created())
}

// ============================================================================
// Pacer
// ============================================================================

func TestPacer_SpacesJobs(t *testing.T) {
	p := fulfillment.NewPacer(40 * time.Millisecond)
	start := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Do(context.Background(), func(context.Context) {}))
	}

	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestPacer_RunsOneJobAtATime(t *testing.T) {
	p := fulfillment.NewPacer(0)
	var inFlight, maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight)
}

func TestPacer_HonoursContext(t *testing.T) {
	p := fulfillment.NewPacer(time.Hour)
	require.NoError(t, p.Do(context.Background(), func(context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ran := false
	err := p.Do(ctx, func(context.Context) { ran = true })

	assert.Error(t, err)
	assert.False(t, ran)
}
