package fulfillment

import (
	"context"

	"github.com/google/uuid"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Fulfiller fulfills a single order.
type Fulfiller interface {
	FulfillOrder(ctx context.Context, orderID string, opts FulfillOptions) (*Result, error)
}

// BatchEntry is the ledger line for one order.
type BatchEntry struct {
	OrderID    string `json:"orderId"`
	OrderLabel string `json:"orderLabel"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	// Retryable marks failures caused by a transient provider condition.
	Retryable bool `json:"retryable,omitempty"`
}

// BatchResult is the running tally of a batch. Completed counts every
// processed order, successful or not.
type BatchResult struct {
	ID        string       `json:"id"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	PerOrder  []BatchEntry `json:"perOrder"`
}

func (r BatchResult) snapshot() BatchResult {
	r.PerOrder = append([]BatchEntry(nil), r.PerOrder...)
	return r
}

// BatchDriver fulfills many orders one after another.
type BatchDriver struct {
	fulfiller Fulfiller
	orders    orders.Store
	pacer     *Pacer
	logger    *otelzap.Logger
	observer  Observer
}

// NewBatchDriver creates a BatchDriver. A nil pacer uses DefaultPacing.
func NewBatchDriver(f Fulfiller, store orders.Store, pacer *Pacer, logger *otelzap.Logger, observer Observer) *BatchDriver {
	if pacer == nil {
		pacer = NewPacer(DefaultPacing)
	}
	return &BatchDriver{
		fulfiller: f,
		orders:    store,
		pacer:     pacer,
		logger:    logger,
		observer:  observer,
	}
}

// Run fulfills the eligible orders among orderIDs sequentially. Individual
// failures are recorded and never stop the batch; a cancelled ctx stops it
// before the next order. progress, if set, receives a snapshot after each
// ledger entry.
func (d *BatchDriver) Run(ctx context.Context, orderIDs []string, courierID int, progress func(BatchResult)) BatchResult {
	result := BatchResult{ID: uuid.NewString()}
	log := d.logger.Ctx(ctx)

	report := func() {
		if progress != nil {
			progress(result.snapshot())
		}
	}
	record := func(entry BatchEntry) {
		result.Completed++
		if !entry.Success {
			result.Failed++
		}
		result.PerOrder = append(result.PerOrder, entry)
		if d.observer != nil {
			d.observer.ObserveBatchEntry(entry.Success)
		}
		report()
	}

	var eligible []*orders.Order
	var unloadable []BatchEntry
	for _, id := range orderIDs {
		order, err := d.orders.GetOrder(ctx, id)
		if err != nil {
			unloadable = append(unloadable, BatchEntry{OrderID: id, OrderLabel: id, Message: err.Error()})
			continue
		}
		if !order.Eligible() {
			log.Debug("Skipping ineligible order",
				zap.String("batch_id", result.ID),
				zap.String("order_id", id),
				zap.String("status", string(order.Status)),
			)
			continue
		}
		eligible = append(eligible, order)
	}
	result.Total = len(eligible) + len(unloadable)

	log.Info("Batch started",
		zap.String("batch_id", result.ID),
		zap.Int("requested", len(orderIDs)),
		zap.Int("total", result.Total),
	)

	for _, entry := range unloadable {
		record(entry)
	}

	for _, order := range eligible {
		err := d.pacer.Do(ctx, func(ctx context.Context) {
			record(d.fulfillOne(ctx, order, courierID))
		})
		if err != nil {
			log.Warn("Batch stopped",
				zap.String("batch_id", result.ID),
				zap.Int("completed", result.Completed),
				zap.Int("total", result.Total),
				zap.Error(err),
			)
			break
		}
	}

	log.Info("Batch finished",
		zap.String("batch_id", result.ID),
		zap.Int("total", result.Total),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (d *BatchDriver) fulfillOne(ctx context.Context, order *orders.Order, courierID int) BatchEntry {
	entry := BatchEntry{OrderID: order.ID, OrderLabel: order.DisplayLabel()}
	res, err := d.fulfiller.FulfillOrder(ctx, order.ID, FulfillOptions{CourierID: courierID})
	if err != nil {
		entry.Message = err.Error()
		entry.Retryable = shipper.IsRetryable(err)
		return entry
	}
	entry.Success = res.Success
	entry.Message = res.Message()
	return entry
}
