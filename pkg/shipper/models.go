package shipper

import (
	"fmt"
	"time"
)

// PaymentMethod is the provider-facing payment mode of a shipment.
type PaymentMethod string

const (
	PaymentPrepaid PaymentMethod = "Prepaid"
	PaymentCOD     PaymentMethod = "COD"
)

// TrackingStatus represents the normalized status of a tracked shipment.
type TrackingStatus string

const (
	TrackingPending        TrackingStatus = "pending"
	TrackingPickedUp       TrackingStatus = "picked_up"
	TrackingInTransit      TrackingStatus = "in_transit"
	TrackingOutForDelivery TrackingStatus = "out_for_delivery"
	TrackingDelivered      TrackingStatus = "delivered"
	TrackingCancelled      TrackingStatus = "cancelled"
	TrackingReturned       TrackingStatus = "returned"
	TrackingException      TrackingStatus = "exception"
)

// DocumentKind identifies a generated shipping document.
type DocumentKind string

const (
	DocumentLabel    DocumentKind = "label"
	DocumentManifest DocumentKind = "manifest"
	DocumentInvoice  DocumentKind = "invoice"
)

// Credentials are the account credentials used to open a provider session.
type Credentials struct {
	Email    string
	Password string
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email: %q, Password: [redacted]}", c.Email)
}

// Complete reports whether both fields are set.
func (c Credentials) Complete() bool {
	return c.Email != "" && c.Password != ""
}

// AuthToken is a session token returned by the provider.
type AuthToken struct {
	Token string
}

// Address represents a billing or shipping address.
type Address struct {
	FirstName  string
	LastName   string
	Company    string
	Street     string
	Street2    string
	City       string
	State      string
	PostalCode string
	Country    string
	Email      string
	Phone      string
}

// Item is a single line of a shipment.
type Item struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice float64
}

// ShipmentRequest is the provider-shaped shipment built from a local order.
// It is constructed per call and never persisted.
type ShipmentRequest struct {
	OrderID           string
	OrderDate         time.Time
	PickupLocation    string
	Billing           Address
	Shipping          Address
	ShippingIsBilling bool
	Items             []Item
	PaymentMethod     PaymentMethod
	SubTotal          float64
	WeightKg          float64
	LengthCm          float64
	BreadthCm         float64
	HeightCm          float64
}

// COD reports whether the shipment is cash on delivery.
func (r *ShipmentRequest) COD() bool {
	return r.PaymentMethod == PaymentCOD
}

// ShipmentOutcome is the normalized result of registering a shipment.
// An empty AWBCode means the shipment is registered and awaits a courier.
type ShipmentOutcome struct {
	ProviderOrderID    string
	ProviderShipmentID string
	AWBCode            string
	CourierName        string
	Status             string
}

// ServiceabilityRequest describes the lane to quote couriers for.
type ServiceabilityRequest struct {
	PickupPincode   string
	DeliveryPincode string
	WeightKg        float64
	COD             bool
}

// CourierOption is a courier able to serve a lane. Rates change frequently so
// options are never cached beyond the call that fetched them.
type CourierOption struct {
	CourierCompanyID      int
	CourierName           string
	Rate                  float64
	EstimatedDeliveryDays string
	CODAvailable          bool
}

// AWBAssignment is the result of assigning a courier to a shipment.
type AWBAssignment struct {
	ShipmentID  string
	AWBCode     string
	CourierID   int
	CourierName string
}

// PickupLocation is a pickup address configured on the provider account.
type PickupLocation struct {
	ID      string
	Name    string
	Pincode string
	City    string
	State   string
	Primary bool
}

// Document is a generated shipping document hosted by the provider.
type Document struct {
	Kind DocumentKind
	URL  string
	// NotCreated lists ids the provider refused to render.
	NotCreated []string
}

// ShipmentFilter narrows ListShipments.
type ShipmentFilter struct {
	Page    int
	PerPage int
	Status  string
}

// ShipmentSummary is a compact shipment row returned by ListShipments.
type ShipmentSummary struct {
	ProviderShipmentID string
	ProviderOrderID    string
	ChannelOrderID     string
	AWBCode            string
	CourierName        string
	Status             string
	CreatedAt          *time.Time
}

// TrackingEvent represents a tracking scan.
type TrackingEvent struct {
	Timestamp   time.Time
	Description string
	Location    string
	Status      string
}

// Tracking is the normalized tracking view of a shipment.
type Tracking struct {
	AWBCode           string
	ShipmentID        string
	Status            TrackingStatus
	RawStatus         string
	CourierName       string
	EstimatedDelivery *time.Time
	TrackURL          string
	Events            []TrackingEvent
}
