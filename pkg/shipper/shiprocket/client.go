// Package shiprocket provides integration with the Shiprocket logistics API.
package shiprocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierName = "shiprocket"

	orderDateLayout = "2006-01-02 15:04"
	activityLayout  = "2006-01-02 15:04:05"
)

// RequestObserver records the outcome of each provider call.
type RequestObserver interface {
	ObserveProviderRequest(operation, outcome string, duration time.Duration)
}

// Config holds Shiprocket configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Breaker  BreakerConfig
	UseMock  bool // When true, uses mock API client
	Observer RequestObserver
	// OnBreakerChange is called after each circuit breaker transition.
	OnBreakerChange func(from, to string)
}

// Client is the Shiprocket provider client.
// It implements the shipper.Provider interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Shiprocket client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Breaker: cfg.Breaker,
			OnStateChange: func(from, to string) {
				logger.Warn("Shiprocket circuit breaker state changed",
					zap.String("from", from),
					zap.String("to", to),
				)
				if cfg.OnBreakerChange != nil {
					cfg.OnBreakerChange(from, to)
				}
			},
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Shiprocket client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = otel.Tracer("github.com/tournevent/fulfillment/pkg/shipper/shiprocket")
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return carrierName
}

// Authenticate exchanges credentials for a session token.
func (c *Client) Authenticate(ctx context.Context, creds shipper.Credentials) (_ *shipper.AuthToken, err error) {
	ctx, done := c.observe(ctx, "authenticate")
	defer func() { done(err) }()

	c.logger.Ctx(ctx).Info("Authenticating with Shiprocket")

	resp, err := c.apiClient.Login(ctx, &LoginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return nil, toShipperError(err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return nil, shipper.NewShipperError(carrierName, "EMPTY_TOKEN", "login response carried no token")
	}
	return &shipper.AuthToken{Token: resp.Token}, nil
}

// CreateShipment registers an order and its shipment with Shiprocket.
func (c *Client) CreateShipment(ctx context.Context, token string, req *shipper.ShipmentRequest) (_ *shipper.ShipmentOutcome, err error) {
	ctx, done := c.observe(ctx, "create_shipment", attribute.String("order.id", req.OrderID))
	defer func() { done(err) }()

	c.logger.Ctx(ctx).Info("Creating Shiprocket order",
		zap.String("order_id", req.OrderID),
		zap.String("pickup_location", req.PickupLocation),
		zap.Int("item_count", len(req.Items)),
		zap.Float64("weight_kg", req.WeightKg),
	)

	resp, err := c.apiClient.CreateAdhocOrder(ctx, token, shipmentRequestToAPI(req))
	if err != nil {
		c.logger.Ctx(ctx).Error("Shiprocket API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	outcome := createResponseToShipper(resp)
	if outcome.ProviderOrderID == "" && outcome.ProviderShipmentID == "" {
		msg := resp.Message
		if msg == "" {
			msg = "order was not registered"
		}
		return nil, shipper.NewShipperError(carrierName, "CREATE_REJECTED", msg)
	}
	return outcome, nil
}

// CheckServiceability lists couriers serving the lane in provider order.
func (c *Client) CheckServiceability(ctx context.Context, token string, req *shipper.ServiceabilityRequest) (_ []shipper.CourierOption, err error) {
	ctx, done := c.observe(ctx, "serviceability")
	defer func() { done(err) }()

	resp, err := c.apiClient.Serviceability(ctx, token, ServiceabilityQuery{
		PickupPostcode:   req.PickupPincode,
		DeliveryPostcode: req.DeliveryPincode,
		Weight:           req.WeightKg,
		COD:              req.COD,
	})
	if err != nil {
		return nil, toShipperError(err)
	}
	return couriersToShipper(resp.Data.AvailableCourierCompanies), nil
}

// AssignAWB assigns a courier to a shipment and generates its waybill.
func (c *Client) AssignAWB(ctx context.Context, token string, shipmentID string, courierID int) (_ *shipper.AWBAssignment, err error) {
	ctx, done := c.observe(ctx, "assign_awb", attribute.String("shipment.id", shipmentID))
	defer func() { done(err) }()

	resp, err := c.apiClient.AssignAWB(ctx, token, &AssignAWBRequest{ShipmentID: shipmentID, CourierID: courierID})
	if err != nil {
		return nil, toShipperError(err)
	}

	data := resp.Response.Data
	if data.AWBCode == "" {
		msg := data.AssignError
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "no waybill in response"
		}
		return nil, shipper.NewShipperError(carrierName, "AWB_NOT_ASSIGNED", msg)
	}

	assigned := courierID
	if id, err := strconv.Atoi(data.CourierCompanyID.String()); err == nil {
		assigned = id
	}
	sid := data.ShipmentID.String()
	if sid == "" {
		sid = shipmentID
	}
	return &shipper.AWBAssignment{
		ShipmentID:  sid,
		AWBCode:     data.AWBCode.String(),
		CourierID:   assigned,
		CourierName: data.CourierName,
	}, nil
}

// GetPickupLocations returns the account's pickup addresses.
func (c *Client) GetPickupLocations(ctx context.Context, token string) (_ []shipper.PickupLocation, err error) {
	ctx, done := c.observe(ctx, "pickup_locations")
	defer func() { done(err) }()

	resp, err := c.apiClient.PickupLocations(ctx, token)
	if err != nil {
		return nil, toShipperError(err)
	}

	locations := make([]shipper.PickupLocation, 0, len(resp.Data.ShippingAddress))
	for _, a := range resp.Data.ShippingAddress {
		locations = append(locations, shipper.PickupLocation{
			ID:      a.ID.String(),
			Name:    a.PickupLocation,
			Pincode: a.PinCode.String(),
			City:    a.City,
			State:   a.State,
			Primary: bool(a.IsPrimaryLocation),
		})
	}
	return locations, nil
}

// GenerateLabel renders labels for shipments.
func (c *Client) GenerateLabel(ctx context.Context, token string, shipmentIDs []string) (_ *shipper.Document, err error) {
	ctx, done := c.observe(ctx, "generate_label")
	defer func() { done(err) }()

	resp, err := c.apiClient.GenerateLabel(ctx, token, &ShipmentIDsRequest{ShipmentID: shipmentIDs})
	if err != nil {
		return nil, toShipperError(err)
	}
	if resp.LabelURL == "" {
		msg := resp.Response
		if msg == "" {
			msg = "label was not created"
		}
		return nil, shipper.NewShipperError(carrierName, "LABEL_NOT_CREATED", msg)
	}
	return &shipper.Document{Kind: shipper.DocumentLabel, URL: resp.LabelURL, NotCreated: flexStrings(resp.NotCreated)}, nil
}

// GenerateManifest renders a pickup manifest for shipments.
func (c *Client) GenerateManifest(ctx context.Context, token string, shipmentIDs []string) (_ *shipper.Document, err error) {
	ctx, done := c.observe(ctx, "generate_manifest")
	defer func() { done(err) }()

	resp, err := c.apiClient.GenerateManifest(ctx, token, &ShipmentIDsRequest{ShipmentID: shipmentIDs})
	if err != nil {
		return nil, toShipperError(err)
	}
	if resp.ManifestURL == "" {
		return nil, shipper.NewShipperError(carrierName, "MANIFEST_NOT_CREATED", "manifest was not created")
	}
	return &shipper.Document{Kind: shipper.DocumentManifest, URL: resp.ManifestURL}, nil
}

// GenerateInvoice renders invoices for provider orders.
func (c *Client) GenerateInvoice(ctx context.Context, token string, orderIDs []string) (_ *shipper.Document, err error) {
	ctx, done := c.observe(ctx, "generate_invoice")
	defer func() { done(err) }()

	resp, err := c.apiClient.PrintInvoice(ctx, token, &InvoiceRequest{IDs: orderIDs})
	if err != nil {
		return nil, toShipperError(err)
	}
	if resp.InvoiceURL == "" {
		return nil, shipper.NewShipperError(carrierName, "INVOICE_NOT_CREATED", "invoice was not created")
	}
	return &shipper.Document{Kind: shipper.DocumentInvoice, URL: resp.InvoiceURL, NotCreated: flexStrings(resp.NotCreated)}, nil
}

// CancelShipments cancels shipments by waybill.
func (c *Client) CancelShipments(ctx context.Context, token string, awbs []string) (err error) {
	ctx, done := c.observe(ctx, "cancel_shipments")
	defer func() { done(err) }()

	c.logger.Ctx(ctx).Info("Cancelling Shiprocket shipments", zap.Strings("awbs", awbs))

	if _, err := c.apiClient.CancelShipments(ctx, token, &CancelRequest{AWBs: awbs}); err != nil {
		return toShipperError(err)
	}
	return nil
}

// ListShipments pages through shipments.
func (c *Client) ListShipments(ctx context.Context, token string, filter shipper.ShipmentFilter) (_ []shipper.ShipmentSummary, err error) {
	ctx, done := c.observe(ctx, "list_shipments")
	defer func() { done(err) }()

	resp, err := c.apiClient.ListShipments(ctx, token, ListShipmentsQuery{
		Page:    filter.Page,
		PerPage: filter.PerPage,
		Status:  filter.Status,
	})
	if err != nil {
		return nil, toShipperError(err)
	}

	rows := make([]shipper.ShipmentSummary, 0, len(resp.Data))
	for _, r := range resp.Data {
		rows = append(rows, shipper.ShipmentSummary{
			ProviderShipmentID: r.ID.String(),
			ProviderOrderID:    r.OrderID.String(),
			ChannelOrderID:     r.ChannelOrderID.String(),
			AWBCode:            r.AWB.String(),
			CourierName:        r.CourierName,
			Status:             r.Status,
			CreatedAt:          parseTime(r.CreatedAt),
		})
	}
	return rows, nil
}

// TrackByShipmentID returns tracking details by provider shipment id.
func (c *Client) TrackByShipmentID(ctx context.Context, token string, shipmentID string) (_ *shipper.Tracking, err error) {
	ctx, done := c.observe(ctx, "track_shipment")
	defer func() { done(err) }()

	resp, err := c.apiClient.TrackShipment(ctx, token, shipmentID)
	if err != nil {
		return nil, toShipperError(err)
	}
	return trackingToShipper(resp, "", shipmentID)
}

// TrackByAWB returns tracking details by waybill.
func (c *Client) TrackByAWB(ctx context.Context, token string, awb string) (_ *shipper.Tracking, err error) {
	ctx, done := c.observe(ctx, "track_awb")
	defer func() { done(err) }()

	resp, err := c.apiClient.TrackAWB(ctx, token, awb)
	if err != nil {
		return nil, toShipperError(err)
	}
	return trackingToShipper(resp, awb, "")
}

// observe opens a span for op and returns the func that closes it.
func (c *Client) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "shiprocket."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if c.config.Observer != nil {
			c.config.Observer.ObserveProviderRequest(op, outcomeOf(err), time.Since(start))
		}
	}
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func shipmentRequestToAPI(req *shipper.ShipmentRequest) *CreateOrderRequest {
	items := make([]OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = OrderItem{
			Name:         it.Name,
			SKU:          it.SKU,
			Units:        it.Units,
			SellingPrice: it.SellingPrice,
		}
	}

	orderDate := req.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now()
	}

	b := req.Billing
	api := &CreateOrderRequest{
		OrderID:             req.OrderID,
		OrderDate:           orderDate.Format(orderDateLayout),
		PickupLocation:      req.PickupLocation,
		BillingCustomerName: b.FirstName,
		BillingLastName:     b.LastName,
		BillingAddress:      b.Street,
		BillingAddress2:     b.Street2,
		BillingCity:         b.City,
		BillingPincode:      b.PostalCode,
		BillingState:        b.State,
		BillingCountry:      b.Country,
		BillingEmail:        b.Email,
		BillingPhone:        b.Phone,
		ShippingIsBilling:   req.ShippingIsBilling,
		OrderItems:          items,
		PaymentMethod:       string(req.PaymentMethod),
		SubTotal:            req.SubTotal,
		Length:              req.LengthCm,
		Breadth:             req.BreadthCm,
		Height:              req.HeightCm,
		Weight:              req.WeightKg,
	}

	if !req.ShippingIsBilling {
		s := req.Shipping
		api.ShippingCustomerName = s.FirstName
		api.ShippingLastName = s.LastName
		api.ShippingAddress = s.Street
		api.ShippingAddress2 = s.Street2
		api.ShippingCity = s.City
		api.ShippingPincode = s.PostalCode
		api.ShippingState = s.State
		api.ShippingCountry = s.Country
		api.ShippingEmail = s.Email
		api.ShippingPhone = s.Phone
	}
	return api
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

// createResponseToShipper collapses the places Shiprocket may report ids and
// the waybill into one outcome.
func createResponseToShipper(resp *CreateOrderResponse) *shipper.ShipmentOutcome {
	out := &shipper.ShipmentOutcome{
		ProviderOrderID:    resp.OrderID.String(),
		ProviderShipmentID: resp.ShipmentID.String(),
		AWBCode:            resp.AWBCode.String(),
		CourierName:        resp.CourierName,
		Status:             resp.Status,
	}
	if p := resp.Payload; p != nil {
		if out.ProviderOrderID == "" {
			out.ProviderOrderID = p.OrderID.String()
		}
		if out.ProviderShipmentID == "" {
			out.ProviderShipmentID = p.ShipmentID.String()
		}
		if out.AWBCode == "" {
			out.AWBCode = p.AWBCode.String()
		}
		if out.CourierName == "" {
			out.CourierName = p.CourierName
		}
	}
	return out
}

func couriersToShipper(companies []CourierCompany) []shipper.CourierOption {
	options := make([]shipper.CourierOption, 0, len(companies))
	for _, cc := range companies {
		id, err := strconv.Atoi(cc.CourierCompanyID.String())
		if err != nil {
			continue
		}
		rate := float64(cc.Rate)
		if rate == 0 {
			rate = float64(cc.FreightCharge)
		}
		days := cc.EstimatedDeliveryDays.String()
		if days == "" {
			days = cc.ETD
		}
		options = append(options, shipper.CourierOption{
			CourierCompanyID:      id,
			CourierName:           cc.CourierName,
			Rate:                  rate,
			EstimatedDeliveryDays: days,
			CODAvailable:          bool(cc.COD),
		})
	}
	return options
}

func trackingToShipper(resp *TrackingResponse, awb, shipmentID string) (*shipper.Tracking, error) {
	data := resp.TrackingData
	if data.Error != "" && len(data.ShipmentTrack) == 0 {
		return nil, shipper.NewShipperError(carrierName, "TRACKING_UNAVAILABLE", data.Error)
	}

	t := &shipper.Tracking{
		AWBCode:    awb,
		ShipmentID: shipmentID,
		TrackURL:   data.TrackURL,
	}
	if len(data.ShipmentTrack) > 0 {
		h := data.ShipmentTrack[0]
		if v := h.AWBCode.String(); v != "" {
			t.AWBCode = v
		}
		if v := h.ShipmentID.String(); v != "" {
			t.ShipmentID = v
		}
		t.RawStatus = h.CurrentStatus
		t.CourierName = h.CourierName
		t.EstimatedDelivery = parseTime(h.EDD)
	}
	if t.EstimatedDelivery == nil {
		t.EstimatedDelivery = parseTime(data.ETD)
	}

	for _, a := range data.ShipmentTrackActivities {
		ev := shipper.TrackingEvent{
			Description: a.Activity,
			Location:    a.Location,
			Status:      a.Status,
		}
		if ts := parseTime(a.Date); ts != nil {
			ev.Timestamp = *ts
		}
		t.Events = append(t.Events, ev)
	}
	if t.RawStatus == "" && len(t.Events) > 0 {
		t.RawStatus = t.Events[0].Description
	}
	t.Status = mapTrackingStatus(t.RawStatus)
	return t, nil
}

// ============================================================================
// Mapping helpers
// ============================================================================

func mapTrackingStatus(raw string) shipper.TrackingStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == "":
		return shipper.TrackingPending
	case strings.HasPrefix(s, "RTO"):
		return shipper.TrackingReturned
	case strings.Contains(s, "UNDELIVERED"), strings.Contains(s, "LOST"), strings.Contains(s, "DAMAGED"):
		return shipper.TrackingException
	case strings.Contains(s, "OUT FOR DELIVERY"):
		return shipper.TrackingOutForDelivery
	case strings.Contains(s, "DELIVERED"):
		return shipper.TrackingDelivered
	case strings.Contains(s, "CANCEL"):
		return shipper.TrackingCancelled
	case strings.Contains(s, "PICKED UP"), strings.Contains(s, "SHIPPED"):
		return shipper.TrackingPickedUp
	case strings.Contains(s, "TRANSIT"), strings.Contains(s, "REACHED"):
		return shipper.TrackingInTransit
	default:
		return shipper.TrackingPending
	}
}

var timeLayouts = []string{
	activityLayout,
	orderDateLayout,
	"2006-01-02",
	"02 Jan 2006, 03:04 PM",
	time.RFC3339,
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func flexStrings(in []FlexString) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.String()
	}
	return out
}

// toShipperError converts API-level failures into *shipper.ShipperError.
func toShipperError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrCircuitOpen) {
		return shipper.NewShipperError(carrierName, "CIRCUIT_OPEN", "provider temporarily unavailable").
			WithCause(shipper.ErrServiceUnavailable).
			WithRetryable(true)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return shipper.NewShipperError(carrierName, "INVALID_RESPONSE", "unexpected provider response").WithCause(err)
	}
	if apiErr.Transport != nil {
		return shipper.NewShipperError(carrierName, "TRANSPORT", "provider unreachable").
			WithCause(apiErr.Transport).
			WithRetryable(true)
	}

	msg := apiErr.Message
	if field := firstFieldError(apiErr.Errors); field != "" {
		msg = msg + ": " + field
	}
	se := shipper.NewShipperError(carrierName, fmt.Sprintf("HTTP_%d", apiErr.StatusCode), msg).
		WithStatusCode(apiErr.StatusCode)
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		se.WithCause(shipper.ErrRateLimitExceeded).WithRetryable(true)
	case apiErr.StatusCode >= 500:
		se.WithCause(shipper.ErrServiceUnavailable).WithRetryable(true)
	}
	return se
}

func firstFieldError(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0] + " " + fields[keys[0]][0]
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var se *shipper.ShipperError
	if !errors.As(err, &se) {
		return "error"
	}
	switch {
	case se.Code == "CIRCUIT_OPEN":
		return "circuit_open"
	case se.Code == "TRANSPORT":
		return "transport"
	case se.StatusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case se.StatusCode >= 500:
		return "server_error"
	case se.StatusCode >= 400:
		return "client_error"
	default:
		return "rejected"
	}
}

// Ensure Client implements shipper.Provider interface
var _ shipper.Provider = (*Client)(nil)
