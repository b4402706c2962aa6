// Package orders is the storefront order store as seen by fulfillment.
package orders

import (
	"context"
	"time"
)

// Status is the local order status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Address is a customer address as captured at checkout.
type Address struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Item is an order line.
type Item struct {
	ProductID string   `json:"productId"`
	Name      string   `json:"name"`
	SKU       string   `json:"sku"`
	Quantity  int      `json:"quantity"`
	Price     float64  `json:"price"`
	WeightKg  *float64 `json:"weightKg,omitempty"`
}

// Order is the subset of a storefront order fulfillment reads and writes.
type Order struct {
	ID                 string    `json:"id"`
	Label              string    `json:"label"`
	Status             Status    `json:"status"`
	PaymentMethod      string    `json:"paymentMethod"`
	Email              string    `json:"email,omitempty"`
	Subtotal           float64   `json:"subtotal"`
	Shipping           Address   `json:"shipping"`
	Billing            *Address  `json:"billing,omitempty"`
	Items              []Item    `json:"items"`
	TrackingNumber     string    `json:"trackingNumber,omitempty"`
	ProviderOrderID    string    `json:"providerOrderId,omitempty"`
	ProviderShipmentID string    `json:"providerShipmentId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Fulfilled reports whether the order already carries a shipment.
func (o *Order) Fulfilled() bool {
	return o.TrackingNumber != "" || o.Status == StatusShipped
}

// Eligible reports whether a batch may pick the order up.
func (o *Order) Eligible() bool {
	return (o.Status == StatusPending || o.Status == StatusProcessing) && o.TrackingNumber == ""
}

// DisplayLabel returns the human order number, falling back to the id.
func (o *Order) DisplayLabel() string {
	if o.Label != "" {
		return o.Label
	}
	return o.ID
}

// ShippingUpdate is written back after a shipment is registered.
type ShippingUpdate struct {
	Status             Status
	TrackingNumber     string
	ProviderOrderID    string
	ProviderShipmentID string
}

// Store reads and updates orders. GetOrder returns shipper.ErrOrderNotFound
// for unknown ids.
type Store interface {
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateShipping(ctx context.Context, id string, update ShippingUpdate) error
}
