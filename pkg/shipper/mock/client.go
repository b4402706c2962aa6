// Package mock provides an in-memory shipper.Provider for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Operation names reported by Calls.
const (
	OpAuthenticate   = "Authenticate"
	OpCreate         = "CreateShipment"
	OpServiceability = "CheckServiceability"
	OpAssignAWB      = "AssignAWB"
	OpPickups        = "GetPickupLocations"
	OpLabel          = "GenerateLabel"
	OpManifest       = "GenerateManifest"
	OpInvoice        = "GenerateInvoice"
	OpCancel         = "CancelShipments"
	OpList           = "ListShipments"
	OpTrack          = "Track"
)

// AssignCall records an AssignAWB invocation.
type AssignCall struct {
	ShipmentID string
	CourierID  int
}

// Client is a mock provider for testing. Zero values of the error fields
// mean success; the slices configure what the provider returns.
type Client struct {
	name string

	AuthErr           error
	CreateErr         error
	ServiceabilityErr error
	AssignErr         error
	PickupErr         error
	DocumentErr       error

	// OnCreate overrides CreateShipment when set.
	OnCreate func(req *shipper.ShipmentRequest) (*shipper.ShipmentOutcome, error)

	// ImmediateAWB is returned by CreateShipment when non-empty.
	ImmediateAWB string

	Couriers []shipper.CourierOption
	Pickups  []shipper.PickupLocation

	mu        sync.Mutex
	calls     map[string]int
	seq       int
	created   []shipper.ShipmentRequest
	assigned  []AssignCall
	cancelled []string
}

// New creates a mock provider with one pickup location and two couriers.
func New(name string) *Client {
	return &Client{
		name: name,
		Couriers: []shipper.CourierOption{
			{CourierCompanyID: 10, CourierName: "Delhivery Surface", Rate: 92.5, EstimatedDeliveryDays: "5", CODAvailable: true},
			{CourierCompanyID: 24, CourierName: "Xpressbees", Rate: 88, EstimatedDeliveryDays: "4", CODAvailable: true},
		},
		Pickups: []shipper.PickupLocation{
			{ID: "1", Name: "Primary", Pincode: "110001", City: "New Delhi", State: "Delhi", Primary: true},
		},
		calls: make(map[string]int),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TotalCalls returns the number of provider calls of any kind.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// Created returns copies of the shipment requests received.
func (c *Client) Created() []shipper.ShipmentRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shipper.ShipmentRequest(nil), c.created...)
}

// Assigned returns the AssignAWB invocations received.
func (c *Client) Assigned() []AssignCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AssignCall(nil), c.assigned...)
}

// Cancelled returns the waybills cancelled so far.
func (c *Client) Cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cancelled...)
}

func (c *Client) record(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[op]++
	c.seq++
	return c.seq
}

// Authenticate returns a fixed token.
func (c *Client) Authenticate(ctx context.Context, creds shipper.Credentials) (*shipper.AuthToken, error) {
	c.record(OpAuthenticate)
	if c.AuthErr != nil {
		return nil, c.AuthErr
	}
	return &shipper.AuthToken{Token: "mock-token-" + c.name}, nil
}

// CreateShipment registers the request in memory.
func (c *Client) CreateShipment(ctx context.Context, token string, req *shipper.ShipmentRequest) (*shipper.ShipmentOutcome, error) {
	n := c.record(OpCreate)
	c.mu.Lock()
	c.created = append(c.created, *req)
	c.mu.Unlock()

	if c.OnCreate != nil {
		return c.OnCreate(req)
	}
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	return &shipper.ShipmentOutcome{
		ProviderOrderID:    fmt.Sprintf("%d", 4000+n),
		ProviderShipmentID: fmt.Sprintf("%d", 5000+n),
		AWBCode:            c.ImmediateAWB,
		Status:             "NEW",
	}, nil
}

// CheckServiceability returns the configured couriers.
func (c *Client) CheckServiceability(ctx context.Context, token string, req *shipper.ServiceabilityRequest) ([]shipper.CourierOption, error) {
	c.record(OpServiceability)
	if c.ServiceabilityErr != nil {
		return nil, c.ServiceabilityErr
	}
	return append([]shipper.CourierOption(nil), c.Couriers...), nil
}

// AssignAWB returns a waybill derived from the shipment id.
func (c *Client) AssignAWB(ctx context.Context, token string, shipmentID string, courierID int) (*shipper.AWBAssignment, error) {
	c.record(OpAssignAWB)
	c.mu.Lock()
	c.assigned = append(c.assigned, AssignCall{ShipmentID: shipmentID, CourierID: courierID})
	c.mu.Unlock()

	if c.AssignErr != nil {
		return nil, c.AssignErr
	}
	name := ""
	for _, co := range c.Couriers {
		if co.CourierCompanyID == courierID {
			name = co.CourierName
		}
	}
	return &shipper.AWBAssignment{
		ShipmentID:  shipmentID,
		AWBCode:     "AWB" + shipmentID,
		CourierID:   courierID,
		CourierName: name,
	}, nil
}

// GetPickupLocations returns the configured pickups.
func (c *Client) GetPickupLocations(ctx context.Context, token string) ([]shipper.PickupLocation, error) {
	c.record(OpPickups)
	if c.PickupErr != nil {
		return nil, c.PickupErr
	}
	return append([]shipper.PickupLocation(nil), c.Pickups...), nil
}

// GenerateLabel returns a mock label URL.
func (c *Client) GenerateLabel(ctx context.Context, token string, shipmentIDs []string) (*shipper.Document, error) {
	c.record(OpLabel)
	return c.document(shipper.DocumentLabel, shipmentIDs)
}

// GenerateManifest returns a mock manifest URL.
func (c *Client) GenerateManifest(ctx context.Context, token string, shipmentIDs []string) (*shipper.Document, error) {
	c.record(OpManifest)
	return c.document(shipper.DocumentManifest, shipmentIDs)
}

// GenerateInvoice returns a mock invoice URL.
func (c *Client) GenerateInvoice(ctx context.Context, token string, orderIDs []string) (*shipper.Document, error) {
	c.record(OpInvoice)
	return c.document(shipper.DocumentInvoice, orderIDs)
}

func (c *Client) document(kind shipper.DocumentKind, ids []string) (*shipper.Document, error) {
	if c.DocumentErr != nil {
		return nil, c.DocumentErr
	}
	return &shipper.Document{
		Kind: kind,
		URL:  fmt.Sprintf("https://docs.%s.mock/%s/%d.pdf", c.name, kind, len(ids)),
	}, nil
}

// CancelShipments records the waybills.
func (c *Client) CancelShipments(ctx context.Context, token string, awbs []string) error {
	c.record(OpCancel)
	c.mu.Lock()
	c.cancelled = append(c.cancelled, awbs...)
	c.mu.Unlock()
	return nil
}

// ListShipments returns the shipments created so far.
func (c *Client) ListShipments(ctx context.Context, token string, filter shipper.ShipmentFilter) ([]shipper.ShipmentSummary, error) {
	c.record(OpList)
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]shipper.ShipmentSummary, 0, len(c.created))
	for i, req := range c.created {
		rows = append(rows, shipper.ShipmentSummary{
			ProviderShipmentID: fmt.Sprintf("%d", 5000+i+1),
			ChannelOrderID:     req.OrderID,
			Status:             "NEW",
		})
	}
	return rows, nil
}

// TrackByShipmentID returns an in-transit shipment.
func (c *Client) TrackByShipmentID(ctx context.Context, token string, shipmentID string) (*shipper.Tracking, error) {
	c.record(OpTrack)
	return c.tracking("", shipmentID), nil
}

// TrackByAWB returns an in-transit shipment.
func (c *Client) TrackByAWB(ctx context.Context, token string, awb string) (*shipper.Tracking, error) {
	c.record(OpTrack)
	return c.tracking(awb, ""), nil
}

func (c *Client) tracking(awb, shipmentID string) *shipper.Tracking {
	return &shipper.Tracking{
		AWBCode:    awb,
		ShipmentID: shipmentID,
		Status:     shipper.TrackingInTransit,
		RawStatus:  "IN TRANSIT",
		Events: []shipper.TrackingEvent{
			{Timestamp: time.Now().Add(-time.Hour), Description: "In Transit", Status: "18"},
		},
	}
}

// Ensure Client implements shipper.Provider interface
var _ shipper.Provider = (*Client)(nil)
