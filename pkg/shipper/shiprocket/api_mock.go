package shiprocket

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnLogin            func(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	OnCreateAdhocOrder func(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error)
	OnServiceability   func(ctx context.Context, token string, q ServiceabilityQuery) (*ServiceabilityResponse, error)
	OnAssignAWB        func(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error)
	OnPickupLocations  func(ctx context.Context, token string) (*PickupLocationsResponse, error)
	OnGenerateLabel    func(ctx context.Context, token string, req *ShipmentIDsRequest) (*LabelResponse, error)
	OnGenerateManifest func(ctx context.Context, token string, req *ShipmentIDsRequest) (*ManifestResponse, error)
	OnPrintInvoice     func(ctx context.Context, token string, req *InvoiceRequest) (*InvoiceResponse, error)
	OnCancelShipments  func(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error)
	OnListShipments    func(ctx context.Context, token string, q ListShipmentsQuery) (*ListShipmentsResponse, error)
	OnTrackShipment    func(ctx context.Context, token string, shipmentID string) (*TrackingResponse, error)
	OnTrackAWB         func(ctx context.Context, token string, awb string) (*TrackingResponse, error)

	mu    sync.Mutex
	calls map[string]int
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// Calls returns how many times the named operation was invoked.
func (m *MockAPIClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockAPIClient) enter(op string) error {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
	m.mu.Unlock()

	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	return nil
}

// Login returns a mock token.
func (m *MockAPIClient) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := m.enter("Login"); err != nil {
		return nil, err
	}
	if m.OnLogin != nil {
		return m.OnLogin(ctx, req)
	}
	return &LoginResponse{Token: "mock-token-" + uuid.New().String()[:8], ID: "1", CompanyID: "1"}, nil
}

// CreateAdhocOrder returns a registered order without a waybill.
func (m *MockAPIClient) CreateAdhocOrder(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if err := m.enter("CreateAdhocOrder"); err != nil {
		return nil, err
	}
	if m.OnCreateAdhocOrder != nil {
		return m.OnCreateAdhocOrder(ctx, token, req)
	}
	n := time.Now().UnixNano() % 1_000_000
	return &CreateOrderResponse{
		OrderID:    FlexString(strconv.FormatInt(400000000+n, 10)),
		ShipmentID: FlexString(strconv.FormatInt(500000000+n, 10)),
		Status:     "NEW",
		StatusCode: 1,
	}, nil
}

// Serviceability returns two mock couriers.
func (m *MockAPIClient) Serviceability(ctx context.Context, token string, q ServiceabilityQuery) (*ServiceabilityResponse, error) {
	if err := m.enter("Serviceability"); err != nil {
		return nil, err
	}
	if m.OnServiceability != nil {
		return m.OnServiceability(ctx, token, q)
	}
	resp := &ServiceabilityResponse{Status: 200}
	resp.Data.AvailableCourierCompanies = []CourierCompany{
		{CourierCompanyID: "10", CourierName: "Delhivery Surface", Rate: 92.5, EstimatedDeliveryDays: "5", COD: true},
		{CourierCompanyID: "24", CourierName: "Xpressbees", Rate: 88, EstimatedDeliveryDays: "4", COD: true},
	}
	return resp, nil
}

// AssignAWB returns a mock waybill.
func (m *MockAPIClient) AssignAWB(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error) {
	if err := m.enter("AssignAWB"); err != nil {
		return nil, err
	}
	if m.OnAssignAWB != nil {
		return m.OnAssignAWB(ctx, token, req)
	}
	resp := &AssignAWBResponse{AWBAssignStatus: 1}
	resp.Response.Data = AWBData{
		AWBCode:          FlexString("1411" + strconv.FormatInt(time.Now().UnixNano()%100000000, 10)),
		CourierCompanyID: FlexString(strconv.Itoa(req.CourierID)),
		CourierName:      "Mock Courier",
		ShipmentID:       FlexString(req.ShipmentID),
	}
	return resp, nil
}

// PickupLocations returns one primary location.
func (m *MockAPIClient) PickupLocations(ctx context.Context, token string) (*PickupLocationsResponse, error) {
	if err := m.enter("PickupLocations"); err != nil {
		return nil, err
	}
	if m.OnPickupLocations != nil {
		return m.OnPickupLocations(ctx, token)
	}
	resp := &PickupLocationsResponse{}
	resp.Data.ShippingAddress = []PickupAddress{
		{ID: "1", PickupLocation: "Primary", PinCode: "110001", City: "New Delhi", State: "Delhi", IsPrimaryLocation: true},
	}
	return resp, nil
}

// GenerateLabel returns a mock label URL.
func (m *MockAPIClient) GenerateLabel(ctx context.Context, token string, req *ShipmentIDsRequest) (*LabelResponse, error) {
	if err := m.enter("GenerateLabel"); err != nil {
		return nil, err
	}
	if m.OnGenerateLabel != nil {
		return m.OnGenerateLabel(ctx, token, req)
	}
	return &LabelResponse{LabelCreated: true, LabelURL: "https://mock.shiprocket.local/label/" + uuid.New().String()[:8] + ".pdf"}, nil
}

// GenerateManifest returns a mock manifest URL.
func (m *MockAPIClient) GenerateManifest(ctx context.Context, token string, req *ShipmentIDsRequest) (*ManifestResponse, error) {
	if err := m.enter("GenerateManifest"); err != nil {
		return nil, err
	}
	if m.OnGenerateManifest != nil {
		return m.OnGenerateManifest(ctx, token, req)
	}
	return &ManifestResponse{Status: true, ManifestURL: "https://mock.shiprocket.local/manifest/" + uuid.New().String()[:8] + ".pdf"}, nil
}

// PrintInvoice returns a mock invoice URL.
func (m *MockAPIClient) PrintInvoice(ctx context.Context, token string, req *InvoiceRequest) (*InvoiceResponse, error) {
	if err := m.enter("PrintInvoice"); err != nil {
		return nil, err
	}
	if m.OnPrintInvoice != nil {
		return m.OnPrintInvoice(ctx, token, req)
	}
	return &InvoiceResponse{IsInvoiceCreated: true, InvoiceURL: "https://mock.shiprocket.local/invoice/" + uuid.New().String()[:8] + ".pdf"}, nil
}

// CancelShipments acknowledges the cancellation.
func (m *MockAPIClient) CancelShipments(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error) {
	if err := m.enter("CancelShipments"); err != nil {
		return nil, err
	}
	if m.OnCancelShipments != nil {
		return m.OnCancelShipments(ctx, token, req)
	}
	return &CancelResponse{Message: "Bulk Shipment cancellation is in progress. Please wait for 24 hours."}, nil
}

// ListShipments returns an empty page.
func (m *MockAPIClient) ListShipments(ctx context.Context, token string, q ListShipmentsQuery) (*ListShipmentsResponse, error) {
	if err := m.enter("ListShipments"); err != nil {
		return nil, err
	}
	if m.OnListShipments != nil {
		return m.OnListShipments(ctx, token, q)
	}
	return &ListShipmentsResponse{}, nil
}

// TrackShipment returns a mock in-transit shipment.
func (m *MockAPIClient) TrackShipment(ctx context.Context, token string, shipmentID string) (*TrackingResponse, error) {
	if err := m.enter("TrackShipment"); err != nil {
		return nil, err
	}
	if m.OnTrackShipment != nil {
		return m.OnTrackShipment(ctx, token, shipmentID)
	}
	return mockTracking("", shipmentID), nil
}

// TrackAWB returns a mock in-transit shipment.
func (m *MockAPIClient) TrackAWB(ctx context.Context, token string, awb string) (*TrackingResponse, error) {
	if err := m.enter("TrackAWB"); err != nil {
		return nil, err
	}
	if m.OnTrackAWB != nil {
		return m.OnTrackAWB(ctx, token, awb)
	}
	return mockTracking(awb, ""), nil
}

func mockTracking(awb, shipmentID string) *TrackingResponse {
	now := time.Now()
	return &TrackingResponse{
		TrackingData: TrackingData{
			TrackStatus:    1,
			ShipmentStatus: "18",
			ShipmentTrack: []ShipmentTrack{
				{AWBCode: FlexString(awb), ShipmentID: FlexString(shipmentID), CurrentStatus: "IN TRANSIT", CourierName: "Mock Courier"},
			},
			ShipmentTrackActivities: []TrackActivity{
				{Date: now.Add(-2 * time.Hour).Format(activityLayout), Status: "18", Activity: "In Transit", Location: "Gurgaon Hub"},
				{Date: now.Add(-26 * time.Hour).Format(activityLayout), Status: "42", Activity: "Picked Up", Location: "New Delhi"},
			},
			TrackURL: "https://shiprocket.co/tracking/" + awb,
		},
	}
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
