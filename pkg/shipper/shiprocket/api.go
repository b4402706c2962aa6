package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// APIClient defines the interface for Shiprocket API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// Login exchanges account credentials for a bearer token.
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)

	// CreateAdhocOrder registers an order and its shipment.
	CreateAdhocOrder(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error)

	// Serviceability lists couriers serving a lane.
	Serviceability(ctx context.Context, token string, q ServiceabilityQuery) (*ServiceabilityResponse, error)

	// AssignAWB assigns a courier and generates the waybill.
	AssignAWB(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error)

	// PickupLocations lists the account's pickup addresses.
	PickupLocations(ctx context.Context, token string) (*PickupLocationsResponse, error)

	// GenerateLabel renders labels for shipments.
	GenerateLabel(ctx context.Context, token string, req *ShipmentIDsRequest) (*LabelResponse, error)

	// GenerateManifest renders a manifest for shipments.
	GenerateManifest(ctx context.Context, token string, req *ShipmentIDsRequest) (*ManifestResponse, error)

	// PrintInvoice renders invoices for orders.
	PrintInvoice(ctx context.Context, token string, req *InvoiceRequest) (*InvoiceResponse, error)

	// CancelShipments cancels shipments by waybill.
	CancelShipments(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error)

	// ListShipments pages through shipments.
	ListShipments(ctx context.Context, token string, q ListShipmentsQuery) (*ListShipmentsResponse, error)

	// TrackShipment returns tracking data by shipment id.
	TrackShipment(ctx context.Context, token string, shipmentID string) (*TrackingResponse, error)

	// TrackAWB returns tracking data by waybill.
	TrackAWB(ctx context.Context, token string, awb string) (*TrackingResponse, error)
}

// ============================================================================
// Loose scalar types
// ============================================================================

// FlexString decodes a JSON string or number into a string. Shiprocket
// returns ids and pincodes as either depending on the endpoint.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// booleans and objects carry no id
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the value.
func (f FlexString) String() string { return string(f) }

// FlexFloat decodes a JSON number or numeric string into a float64.
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// FlexBool decodes true/false, 1/0 and "1"/"0".
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// ============================================================================
// API Request/Response Types (match Shiprocket external API v1 structure)
// ============================================================================

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the response of POST /auth/login.
type LoginResponse struct {
	Token     string     `json:"token"`
	ID        FlexString `json:"id"`
	CompanyID FlexString `json:"company_id"`
}

// OrderItem is a line of an adhoc order.
type OrderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// CreateOrderRequest is the body of POST /orders/create/adhoc.
type CreateOrderRequest struct {
	OrderID               string      `json:"order_id"`
	OrderDate             string      `json:"order_date"`
	PickupLocation        string      `json:"pickup_location"`
	BillingCustomerName   string      `json:"billing_customer_name"`
	BillingLastName       string      `json:"billing_last_name,omitempty"`
	BillingAddress        string      `json:"billing_address"`
	BillingAddress2       string      `json:"billing_address_2,omitempty"`
	BillingCity           string      `json:"billing_city"`
	BillingPincode        string      `json:"billing_pincode"`
	BillingState          string      `json:"billing_state"`
	BillingCountry        string      `json:"billing_country"`
	BillingEmail          string      `json:"billing_email"`
	BillingPhone          string      `json:"billing_phone"`
	ShippingIsBilling     bool        `json:"shipping_is_billing"`
	ShippingCustomerName  string      `json:"shipping_customer_name,omitempty"`
	ShippingLastName      string      `json:"shipping_last_name,omitempty"`
	ShippingAddress       string      `json:"shipping_address,omitempty"`
	ShippingAddress2      string      `json:"shipping_address_2,omitempty"`
	ShippingCity          string      `json:"shipping_city,omitempty"`
	ShippingPincode       string      `json:"shipping_pincode,omitempty"`
	ShippingState         string      `json:"shipping_state,omitempty"`
	ShippingCountry       string      `json:"shipping_country,omitempty"`
	ShippingEmail         string      `json:"shipping_email,omitempty"`
	ShippingPhone         string      `json:"shipping_phone,omitempty"`
	OrderItems            []OrderItem `json:"order_items"`
	PaymentMethod         string      `json:"payment_method"`
	SubTotal              float64     `json:"sub_total"`
	Length                float64     `json:"length"`
	Breadth               float64     `json:"breadth"`
	Height                float64     `json:"height"`
	Weight                float64     `json:"weight"`
}

// CreateOrderPayload is the nested payload some create responses carry.
type CreateOrderPayload struct {
	OrderID     FlexString `json:"order_id"`
	ShipmentID  FlexString `json:"shipment_id"`
	AWBCode     FlexString `json:"awb_code"`
	CourierName string     `json:"courier_name"`
}

// CreateOrderResponse is the response of POST /orders/create/adhoc. The
// waybill may be at the top level, inside payload, or absent.
type CreateOrderResponse struct {
	OrderID          FlexString          `json:"order_id"`
	ShipmentID       FlexString          `json:"shipment_id"`
	Status           string              `json:"status"`
	StatusCode       int                 `json:"status_code"`
	AWBCode          FlexString          `json:"awb_code"`
	CourierCompanyID FlexString          `json:"courier_company_id"`
	CourierName      string              `json:"courier_name"`
	Message          string              `json:"message,omitempty"`
	Payload          *CreateOrderPayload `json:"payload,omitempty"`
}

// ServiceabilityQuery holds the query of GET /courier/serviceability/.
type ServiceabilityQuery struct {
	PickupPostcode   string
	DeliveryPostcode string
	Weight           float64
	COD              bool
}

// CourierCompany is a courier offered for a lane.
type CourierCompany struct {
	CourierCompanyID      FlexString `json:"courier_company_id"`
	CourierName           string     `json:"courier_name"`
	Rate                  FlexFloat  `json:"rate"`
	FreightCharge         FlexFloat  `json:"freight_charge"`
	EstimatedDeliveryDays FlexString `json:"estimated_delivery_days"`
	ETD                   string     `json:"etd"`
	COD                   FlexBool   `json:"cod"`
}

// ServiceabilityResponse is the response of GET /courier/serviceability/.
type ServiceabilityResponse struct {
	Status int `json:"status"`
	Data   struct {
		AvailableCourierCompanies []CourierCompany `json:"available_courier_companies"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

// AssignAWBRequest is the body of POST /courier/assign/awb.
type AssignAWBRequest struct {
	ShipmentID string `json:"shipment_id"`
	CourierID  int    `json:"courier_id,omitempty"`
}

// AWBData is the waybill assignment detail.
type AWBData struct {
	AWBCode          FlexString `json:"awb_code"`
	CourierCompanyID FlexString `json:"courier_company_id"`
	CourierName      string     `json:"courier_name"`
	ShipmentID       FlexString `json:"shipment_id"`
	AssignError      string     `json:"awb_assign_error,omitempty"`
}

// AssignAWBResponse is the response of POST /courier/assign/awb.
type AssignAWBResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data AWBData `json:"data"`
	} `json:"response"`
	Message string `json:"message,omitempty"`
}

// PickupAddress is a configured pickup location.
type PickupAddress struct {
	ID                FlexString `json:"id"`
	PickupLocation    string     `json:"pickup_location"`
	PinCode           FlexString `json:"pin_code"`
	City              string     `json:"city"`
	State             string     `json:"state"`
	IsPrimaryLocation FlexBool   `json:"is_primary_location"`
}

// PickupLocationsResponse is the response of GET /settings/company/pickup.
type PickupLocationsResponse struct {
	Data struct {
		ShippingAddress []PickupAddress `json:"shipping_address"`
	} `json:"data"`
}

// ShipmentIDsRequest is the body of label and manifest generation.
type ShipmentIDsRequest struct {
	ShipmentID []string `json:"shipment_id"`
}

// LabelResponse is the response of POST /courier/generate/label.
type LabelResponse struct {
	LabelCreated FlexBool     `json:"label_created"`
	LabelURL     string       `json:"label_url"`
	Response     string       `json:"response,omitempty"`
	NotCreated   []FlexString `json:"not_created,omitempty"`
}

// ManifestResponse is the response of POST /manifests/generate.
type ManifestResponse struct {
	Status      FlexBool `json:"status"`
	ManifestURL string   `json:"manifest_url"`
}

// InvoiceRequest is the body of POST /orders/print/invoice.
type InvoiceRequest struct {
	IDs []string `json:"ids"`
}

// InvoiceResponse is the response of POST /orders/print/invoice.
type InvoiceResponse struct {
	IsInvoiceCreated FlexBool     `json:"is_invoice_created"`
	InvoiceURL       string       `json:"invoice_url"`
	NotCreated       []FlexString `json:"not_created,omitempty"`
}

// CancelRequest is the body of POST /orders/cancel/shipment/awbs.
type CancelRequest struct {
	AWBs []string `json:"awbs"`
}

// CancelResponse is the response of POST /orders/cancel/shipment/awbs.
type CancelResponse struct {
	Message string `json:"message"`
}

// ListShipmentsQuery holds the query of GET /shipments.
type ListShipmentsQuery struct {
	Page    int
	PerPage int
	Status  string
}

// ShipmentRow is a row of GET /shipments.
type ShipmentRow struct {
	ID             FlexString `json:"id"`
	OrderID        FlexString `json:"order_id"`
	ChannelOrderID FlexString `json:"channel_order_id"`
	AWB            FlexString `json:"awb"`
	CourierName    string     `json:"courier_name"`
	Status         string     `json:"status"`
	CreatedAt      string     `json:"created_at"`
}

// ListShipmentsResponse is the response of GET /shipments.
type ListShipmentsResponse struct {
	Data []ShipmentRow `json:"data"`
}

// ShipmentTrack is a per-waybill tracking header.
type ShipmentTrack struct {
	AWBCode       FlexString `json:"awb_code"`
	ShipmentID    FlexString `json:"shipment_id"`
	CurrentStatus string     `json:"current_status"`
	CourierName   string     `json:"courier_name"`
	EDD           string     `json:"edd"`
}

// TrackActivity is a tracking scan.
type TrackActivity struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// TrackingData is the tracking body.
type TrackingData struct {
	TrackStatus             int             `json:"track_status"`
	ShipmentStatus          FlexString      `json:"shipment_status"`
	ShipmentTrack           []ShipmentTrack `json:"shipment_track"`
	ShipmentTrackActivities []TrackActivity `json:"shipment_track_activities"`
	TrackURL                string          `json:"track_url"`
	ETD                     string          `json:"etd"`
	Error                   string          `json:"error,omitempty"`
}

// TrackingResponse is the response of the tracking endpoints.
type TrackingResponse struct {
	TrackingData TrackingData `json:"tracking_data"`
}

// APIError represents an error from the Shiprocket API.
type APIError struct {
	StatusCode int                 `json:"status_code"`
	Message    string              `json:"message"`
	Errors     map[string][]string `json:"errors,omitempty"`
	Transport  error               `json:"-"`
}

func (e *APIError) Error() string {
	if e.Transport != nil {
		return "transport: " + e.Transport.Error()
	}
	return "HTTP " + strconv.Itoa(e.StatusCode) + ": " + e.Message
}

// Unwrap returns the transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Transport
}
