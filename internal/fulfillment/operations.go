package fulfillment

import (
	"context"
	"fmt"
	"sort"

	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SelectCourier returns the cheapest option. Ties keep the provider's order.
func SelectCourier(options []shipper.CourierOption) (shipper.CourierOption, bool) {
	if len(options) == 0 {
		return shipper.CourierOption{}, false
	}
	return SortByRate(options)[0], true
}

// SortByRate returns a copy of options ordered by ascending rate, keeping the
// relative order of equal rates.
func SortByRate(options []shipper.CourierOption) []shipper.CourierOption {
	sorted := append([]shipper.CourierOption(nil), options...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rate < sorted[j].Rate
	})
	return sorted
}

// GetCourierQuotes lists the couriers able to ship the order, cheapest
// first. Nothing is created at the provider.
func (o *Orchestrator) GetCourierQuotes(ctx context.Context, orderID string) ([]shipper.CourierOption, error) {
	ctx, span := o.tracer.Start(ctx, "fulfillment.GetCourierQuotes", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	req, err := shipment.Build(order, o.cfg.PickupLocationName)
	if err != nil {
		return nil, err
	}
	token, err := o.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	pickupPincode := o.resolvePickup(ctx, o.logger.Ctx(ctx), token, req)
	options, err := o.provider.CheckServiceability(ctx, token, &shipper.ServiceabilityRequest{
		PickupPincode:   pickupPincode,
		DeliveryPincode: req.Shipping.PostalCode,
		WeightKg:        req.WeightKg,
		COD:             req.COD(),
	})
	if err != nil {
		o.invalidateOnUnauthorized(ctx, token, err)
		return nil, err
	}
	return SortByRate(options), nil
}

// GenerateDocument renders a label, manifest or invoice covering orderIDs.
// Every order must already be registered with the provider.
func (o *Orchestrator) GenerateDocument(ctx context.Context, kind shipper.DocumentKind, orderIDs []string) (*shipper.Document, error) {
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("no orders given for %s", kind)
	}

	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		order, err := o.orders.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		ref := order.ProviderShipmentID
		if kind == shipper.DocumentInvoice {
			ref = order.ProviderOrderID
		}
		if ref == "" {
			return nil, fmt.Errorf("order %s: %w", order.DisplayLabel(), shipper.ErrNotRegistered)
		}
		ids = append(ids, ref)
	}

	token, err := o.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	var doc *shipper.Document
	switch kind {
	case shipper.DocumentLabel:
		doc, err = o.provider.GenerateLabel(ctx, token, ids)
	case shipper.DocumentManifest:
		doc, err = o.provider.GenerateManifest(ctx, token, ids)
	case shipper.DocumentInvoice:
		doc, err = o.provider.GenerateInvoice(ctx, token, ids)
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
	if err != nil {
		o.invalidateOnUnauthorized(ctx, token, err)
		return nil, err
	}
	return doc, nil
}

// CancelOrder cancels the order's shipment at the provider and marks the
// order cancelled. Only orders with a waybill can be cancelled.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID string) error {
	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.TrackingNumber == "" || IsSentinel(order.TrackingNumber) {
		return fmt.Errorf("order %s: %w", order.DisplayLabel(), shipper.ErrNoTrackingNumber)
	}

	token, err := o.tokens.GetValidToken(ctx)
	if err != nil {
		return err
	}
	if err := o.provider.CancelShipments(ctx, token, []string{order.TrackingNumber}); err != nil {
		o.invalidateOnUnauthorized(ctx, token, err)
		return err
	}

	update := orders.ShippingUpdate{
		Status:             orders.StatusCancelled,
		TrackingNumber:     order.TrackingNumber,
		ProviderOrderID:    order.ProviderOrderID,
		ProviderShipmentID: order.ProviderShipmentID,
	}
	if err := o.orders.UpdateShipping(ctx, order.ID, update); err != nil {
		o.logger.Ctx(ctx).Error("Order write-back failed after cancellation",
			zap.String("order_id", order.ID),
			zap.String("awb", order.TrackingNumber),
			zap.Error(err),
		)
	}
	return nil
}

// TrackOrder returns the provider's tracking view of the order: by waybill
// when one is assigned, by shipment id otherwise.
func (o *Orchestrator) TrackOrder(ctx context.Context, orderID string) (*shipper.Tracking, error) {
	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	awb := order.TrackingNumber
	if IsSentinel(awb) {
		awb = ""
	}
	if awb == "" && order.ProviderShipmentID == "" {
		return nil, fmt.Errorf("order %s: %w", order.DisplayLabel(), shipper.ErrNotRegistered)
	}

	token, err := o.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	var tracking *shipper.Tracking
	if awb != "" {
		tracking, err = o.provider.TrackByAWB(ctx, token, awb)
	} else {
		tracking, err = o.provider.TrackByShipmentID(ctx, token, order.ProviderShipmentID)
	}
	if err != nil {
		o.invalidateOnUnauthorized(ctx, token, err)
		return nil, err
	}
	if tracking.TrackURL == "" {
		if u, ok := o.TrackingURL(awb); ok {
			tracking.TrackURL = u
		}
	}
	return tracking, nil
}

// ListShipments pages through the shipments registered at the provider.
func (o *Orchestrator) ListShipments(ctx context.Context, filter shipper.ShipmentFilter) ([]shipper.ShipmentSummary, error) {
	token, err := o.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := o.provider.ListShipments(ctx, token, filter)
	if err != nil {
		o.invalidateOnUnauthorized(ctx, token, err)
		return nil, err
	}
	return rows, nil
}
