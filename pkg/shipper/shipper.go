// Package shipper provides an abstraction layer over the logistics provider
// used to fulfil storefront orders.
package shipper

import (
	"context"
)

// Authenticator exchanges account credentials for a provider session token.
// The token cache is the only caller of this operation.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*AuthToken, error)
}

// Provider defines the operations the fulfillment flow drives against a
// logistics provider. Every operation except Authenticate requires a bearer
// token obtained from the token cache. Implementations never retry.
type Provider interface {
	Authenticator

	// Name returns the provider identifier (e.g., "shiprocket").
	Name() string

	// CreateShipment registers an order with the provider. Not idempotent.
	CreateShipment(ctx context.Context, token string, req *ShipmentRequest) (*ShipmentOutcome, error)

	// CheckServiceability lists couriers able to serve the lane, in provider order.
	CheckServiceability(ctx context.Context, token string, req *ServiceabilityRequest) ([]CourierOption, error)

	// AssignAWB assigns a courier to a registered shipment and generates its waybill.
	AssignAWB(ctx context.Context, token string, shipmentID string, courierID int) (*AWBAssignment, error)

	// GetPickupLocations returns the pickup addresses configured on the account.
	GetPickupLocations(ctx context.Context, token string) ([]PickupLocation, error)

	// GenerateLabel renders shipping labels for the given provider shipment ids.
	GenerateLabel(ctx context.Context, token string, shipmentIDs []string) (*Document, error)

	// GenerateManifest renders a pickup manifest for the given provider shipment ids.
	GenerateManifest(ctx context.Context, token string, shipmentIDs []string) (*Document, error)

	// GenerateInvoice renders invoices for the given provider order ids.
	GenerateInvoice(ctx context.Context, token string, orderIDs []string) (*Document, error)

	// CancelShipments cancels the shipments carrying the given waybills.
	CancelShipments(ctx context.Context, token string, awbs []string) error

	// ListShipments pages through shipments known to the provider.
	ListShipments(ctx context.Context, token string, filter ShipmentFilter) ([]ShipmentSummary, error)

	// TrackByShipmentID returns tracking details by provider shipment id.
	TrackByShipmentID(ctx context.Context, token string, shipmentID string) (*Tracking, error)

	// TrackByAWB returns tracking details by waybill number.
	TrackByAWB(ctx context.Context, token string, awb string) (*Tracking, error)
}
