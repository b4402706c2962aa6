// Package fulfillment registers storefront orders with the shipping provider
// and assigns them a courier.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tournevent/fulfillment/internal/notify"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SentinelPrefix marks a tracking number for a shipment that is registered
// with the provider but has no waybill yet.
const SentinelPrefix = "SR-"

// DefaultTrackingURLBase is the public tracking page waybills are appended to.
const DefaultTrackingURLBase = "https://shiprocket.co/tracking/"

// TokenSource hands out a valid provider token.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// tokenInvalidator is implemented by token sources that can drop a token
// the provider rejected.
type tokenInvalidator interface {
	Invalidate(ctx context.Context, rejected string)
}

// Observer records fulfillment outcomes.
type Observer interface {
	ObserveFulfillment(state string)
	ObserveBatchEntry(success bool)
}

// Config holds the orchestrator settings.
type Config struct {
	// PickupLocationName is the provider pickup location to ship from.
	PickupLocationName string
	// DefaultPickupPincode is used when no pickup location can be resolved.
	DefaultPickupPincode string
	// TrackingURLBase prefixes waybills in customer-facing links.
	TrackingURLBase string
}

// FulfillOptions are the caller's choices for a single fulfillment.
type FulfillOptions struct {
	// CourierID forces a courier and skips the serviceability check when non-zero.
	CourierID int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithObserver records outcomes.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// Orchestrator drives a single order through registration, courier
// assignment, local write-back and notification.
type Orchestrator struct {
	cfg      Config
	provider shipper.Provider
	tokens   TokenSource
	orders   orders.Store
	notifier notify.Notifier
	logger   *otelzap.Logger
	tracer   trace.Tracer
	observer Observer
}

// New creates an Orchestrator. A nil notifier disables notifications.
func New(cfg Config, provider shipper.Provider, tokens TokenSource, store orders.Store, notifier notify.Notifier, logger *otelzap.Logger, opts ...Option) *Orchestrator {
	if cfg.TrackingURLBase == "" {
		cfg.TrackingURLBase = DefaultTrackingURLBase
	}
	o := &Orchestrator{
		cfg:      cfg,
		provider: provider,
		tokens:   tokens,
		orders:   store,
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("fulfillment")
	}
	return o
}

// Provider returns the provider orders are shipped with.
func (o *Orchestrator) Provider() shipper.Provider {
	return o.provider
}

// FulfillOrder registers the order with the provider and tries to assign a
// courier. Once the remote shipment exists, later failures only add
// warnings to the result.
func (o *Orchestrator) FulfillOrder(ctx context.Context, orderID string, opts FulfillOptions) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "fulfillment.FulfillOrder", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("courier.id", opts.CourierID),
	))
	defer span.End()

	log := o.logger.Ctx(ctx)

	result, err := o.fulfill(ctx, log, orderID, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.observe(StateFailed)
		log.Error("Fulfillment failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("fulfillment.state", string(result.State)),
		attribute.Bool("fulfillment.skipped", result.Skipped),
	)
	if result.Skipped {
		o.observe("skipped")
	} else {
		o.observe(result.State)
	}
	return result, nil
}

func (o *Orchestrator) fulfill(ctx context.Context, log otelzap.LoggerWithCtx, orderID string, opts FulfillOptions) (*Result, error) {
	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Fulfilled() {
		log.Info("Order already fulfilled, skipping",
			zap.String("order_id", order.ID),
			zap.String("tracking_number", order.TrackingNumber),
		)
		state := StateAwbAssigned
		if IsSentinel(order.TrackingNumber) || order.TrackingNumber == "" {
			state = StateRegistered
		}
		return &Result{
			OrderID:            order.ID,
			OrderLabel:         order.DisplayLabel(),
			Success:            true,
			Skipped:            true,
			State:              state,
			TrackingNumber:     order.TrackingNumber,
			ProviderOrderID:    order.ProviderOrderID,
			ProviderShipmentID: order.ProviderShipmentID,
		}, nil
	}

	if len(order.Items) == 0 {
		return nil, shipper.ErrEmptyOrder
	}

	req, err := shipment.Build(order, o.cfg.PickupLocationName)
	if err != nil {
		return nil, err
	}

	token, err := o.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		OrderID:    order.ID,
		OrderLabel: order.DisplayLabel(),
		State:      StateNotShipped,
	}

	pickupPincode := o.resolvePickup(ctx, log, token, req)

	created, err := o.provider.CreateShipment(ctx, token, req)
	if err != nil {
		o.invalidateOnUnauthorized(ctx, token, err)
		return nil, fmt.Errorf("%w: %w", shipper.ErrShipmentCreateFailed, err)
	}
	result.State = StateRegistered
	result.ProviderOrderID = created.ProviderOrderID
	result.ProviderShipmentID = created.ProviderShipmentID
	result.AWBCode = created.AWBCode
	result.CourierName = created.CourierName
	log.Info("Shipment registered",
		zap.String("order_id", order.ID),
		zap.String("provider_order_id", created.ProviderOrderID),
		zap.String("provider_shipment_id", created.ProviderShipmentID),
	)

	if result.AWBCode == "" {
		o.assignCourier(ctx, log, token, req, pickupPincode, opts.CourierID, result)
	}
	if result.AWBCode != "" {
		result.State = StateAwbAssigned
	}

	update := orders.ShippingUpdate{
		Status:             orders.StatusProcessing,
		TrackingNumber:     trackingNumberFor(result),
		ProviderOrderID:    result.ProviderOrderID,
		ProviderShipmentID: result.ProviderShipmentID,
	}
	if result.AWBCode != "" {
		update.Status = orders.StatusShipped
	}
	result.TrackingNumber = update.TrackingNumber
	result.Success = true

	if err := o.orders.UpdateShipping(ctx, order.ID, update); err != nil {
		log.Error("Order write-back failed, shipment needs manual reconciliation",
			zap.String("order_id", order.ID),
			zap.Error(err),
			zap.String("tracking_number", update.TrackingNumber),
		)
		result.warn(fmt.Errorf("%w: %w", shipper.ErrOrderWriteFailed, err))
	}

	if result.AWBCode != "" && o.notifier != nil {
		snapshot := *order
		snapshot.Status = update.Status
		snapshot.TrackingNumber = update.TrackingNumber
		snapshot.ProviderOrderID = update.ProviderOrderID
		snapshot.ProviderShipmentID = update.ProviderShipmentID
		if err := o.notifier.SendShipped(ctx, &snapshot); err != nil {
			log.Warn("Shipped notification failed", zap.String("order_id", order.ID), zap.Error(err))
			result.warn(fmt.Errorf("%w: %w", shipper.ErrNotificationFailed, err))
		}
	}

	log.Info("Order fulfilled",
		zap.String("order_id", order.ID),
		zap.String("state", string(result.State)),
		zap.String("tracking_number", result.TrackingNumber),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// resolvePickup sets the request's pickup location to the provider's
// spelling of the configured name and returns its pincode. It degrades to
// the configured default pincode rather than failing.
func (o *Orchestrator) resolvePickup(ctx context.Context, log otelzap.LoggerWithCtx, token string, req *shipper.ShipmentRequest) string {
	locations, err := o.provider.GetPickupLocations(ctx, token)
	if err != nil {
		log.Warn("Pickup locations unavailable, using default pincode",
			zap.String("order_id", req.OrderID),
			zap.Error(err),
			zap.String("pincode", o.cfg.DefaultPickupPincode),
		)
		return o.cfg.DefaultPickupPincode
	}

	loc, ok := MatchPickupLocation(locations, o.cfg.PickupLocationName)
	if !ok || loc.Pincode == "" {
		log.Warn("No pickup location resolved, using default pincode",
			zap.String("order_id", req.OrderID),
			zap.String("pickup_location", o.cfg.PickupLocationName),
			zap.String("pincode", o.cfg.DefaultPickupPincode),
		)
		return o.cfg.DefaultPickupPincode
	}
	req.PickupLocation = loc.Name
	return loc.Pincode
}

// assignCourier picks a courier and requests a waybill. Failures are
// recorded as warnings and leave the shipment registered.
func (o *Orchestrator) assignCourier(ctx context.Context, log otelzap.LoggerWithCtx, token string, req *shipper.ShipmentRequest, pickupPincode string, courierID int, result *Result) {
	if result.ProviderShipmentID == "" {
		result.warn(fmt.Errorf("%w: provider returned no shipment id", shipper.ErrAwbAssignmentFailed))
		return
	}

	if courierID == 0 {
		options, err := o.provider.CheckServiceability(ctx, token, &shipper.ServiceabilityRequest{
			PickupPincode:   pickupPincode,
			DeliveryPincode: req.Shipping.PostalCode,
			WeightKg:        req.WeightKg,
			COD:             req.COD(),
		})
		if err != nil {
			log.Warn("Serviceability check failed", zap.String("order_id", req.OrderID), zap.Error(err))
			result.warn(fmt.Errorf("%w: %w", shipper.ErrNoServiceableCourier, err))
			return
		}
		best, ok := SelectCourier(options)
		if !ok {
			log.Warn("No courier serves this lane",
				zap.String("order_id", req.OrderID),
				zap.String("pickup_pincode", pickupPincode),
				zap.String("delivery_pincode", req.Shipping.PostalCode),
			)
			result.warn(shipper.ErrNoServiceableCourier)
			return
		}
		courierID = best.CourierCompanyID
		result.CourierName = best.CourierName
	}

	assignment, err := o.provider.AssignAWB(ctx, token, result.ProviderShipmentID, courierID)
	if err != nil {
		log.Warn("AWB assignment failed",
			zap.String("order_id", req.OrderID),
			zap.Int("courier_id", courierID),
			zap.Error(err),
		)
		result.warn(fmt.Errorf("%w: %w", shipper.ErrAwbAssignmentFailed, err))
		return
	}
	result.AWBCode = assignment.AWBCode
	if assignment.CourierName != "" {
		result.CourierName = assignment.CourierName
	}
	log.Info("AWB assigned",
		zap.String("order_id", req.OrderID),
		zap.String("awb", assignment.AWBCode),
		zap.Int("courier_id", courierID),
		zap.String("courier", result.CourierName),
	)
}

// invalidateOnUnauthorized drops the cached token after the provider
// rejected it so the next call logs in again.
func (o *Orchestrator) invalidateOnUnauthorized(ctx context.Context, token string, err error) {
	var se *shipper.ShipperError
	if !errors.As(err, &se) || se.StatusCode != 401 {
		return
	}
	if inv, ok := o.tokens.(tokenInvalidator); ok {
		o.logger.Ctx(ctx).Warn("Provider rejected token, invalidating")
		inv.Invalidate(ctx, token)
	}
}

func (o *Orchestrator) observe(state State) {
	if o.observer != nil {
		o.observer.ObserveFulfillment(string(state))
	}
}

// MatchPickupLocation finds name among locations: exact match first, then
// case-insensitive, then the first location.
func MatchPickupLocation(locations []shipper.PickupLocation, name string) (shipper.PickupLocation, bool) {
	if len(locations) == 0 {
		return shipper.PickupLocation{}, false
	}
	for _, loc := range locations {
		if loc.Name == name {
			return loc, true
		}
	}
	for _, loc := range locations {
		if strings.EqualFold(loc.Name, name) {
			return loc, true
		}
	}
	return locations[0], true
}

// IsSentinel reports whether trackingNumber is a registered-without-waybill
// placeholder.
func IsSentinel(trackingNumber string) bool {
	return strings.HasPrefix(trackingNumber, SentinelPrefix)
}

// TrackingURL returns the public tracking link for a waybill. Sentinels and
// empty values have none.
func (o *Orchestrator) TrackingURL(trackingNumber string) (string, bool) {
	return TrackingURL(o.cfg.TrackingURLBase, trackingNumber)
}

// TrackingURL joins base and trackingNumber unless the number is empty or a
// sentinel.
func TrackingURL(base, trackingNumber string) (string, bool) {
	if trackingNumber == "" || IsSentinel(trackingNumber) {
		return "", false
	}
	if base == "" {
		base = DefaultTrackingURLBase
	}
	return strings.TrimRight(base, "/") + "/" + trackingNumber, true
}

func trackingNumberFor(r *Result) string {
	if r.AWBCode != "" {
		return r.AWBCode
	}
	id := r.ProviderShipmentID
	if id == "" {
		id = r.ProviderOrderID
	}
	return SentinelPrefix + id
}
