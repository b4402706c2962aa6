package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the Shiprocket external API root.
const DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// BreakerConfig tunes the circuit breaker guarding authenticated calls.
type BreakerConfig struct {
	MaxRequests         uint32        // Requests allowed while half-open
	Interval            time.Duration // Closed-state counter reset period
	Timeout             time.Duration // Open-state duration before half-open
	ConsecutiveFailures uint32        // Failures that trip the breaker
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
	// OnStateChange is invoked when the breaker changes state.
	OnStateChange func(from, to string)
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	bc := cfg.Breaker
	if bc.MaxRequests == 0 {
		bc.MaxRequests = 1
	}
	if bc.Timeout == 0 {
		bc.Timeout = 30 * time.Second
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        carrierName,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		// Only transport failures, throttling and 5xx count against the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsOutage(err)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from.String(), to.String())
		}
	}

	return &HTTPAPIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// BreakerState returns the current breaker state name.
func (c *HTTPAPIClient) BreakerState() string {
	return c.breaker.State().String()
}

// Login exchanges credentials for a token.
// POST /auth/login. Not guarded by the breaker; the token cache applies its own cooldown.
func (c *HTTPAPIClient) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var result LoginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateAdhocOrder registers an order and its shipment.
// POST /orders/create/adhoc
func (c *HTTPAPIClient) CreateAdhocOrder(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	var result CreateOrderResponse
	if err := c.guarded(ctx, http.MethodPost, "/orders/create/adhoc", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Serviceability lists couriers for a lane.
// GET /courier/serviceability/
func (c *HTTPAPIClient) Serviceability(ctx context.Context, token string, q ServiceabilityQuery) (*ServiceabilityResponse, error) {
	params := url.Values{}
	params.Set("pickup_postcode", q.PickupPostcode)
	params.Set("delivery_postcode", q.DeliveryPostcode)
	params.Set("weight", strconv.FormatFloat(q.Weight, 'f', -1, 64))
	cod := "0"
	if q.COD {
		cod = "1"
	}
	params.Set("cod", cod)

	var result ServiceabilityResponse
	if err := c.guarded(ctx, http.MethodGet, "/courier/serviceability/?"+params.Encode(), token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AssignAWB assigns a courier to a shipment.
// POST /courier/assign/awb
func (c *HTTPAPIClient) AssignAWB(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error) {
	var result AssignAWBResponse
	if err := c.guarded(ctx, http.MethodPost, "/courier/assign/awb", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PickupLocations lists pickup addresses.
// GET /settings/company/pickup
func (c *HTTPAPIClient) PickupLocations(ctx context.Context, token string) (*PickupLocationsResponse, error) {
	var result PickupLocationsResponse
	if err := c.guarded(ctx, http.MethodGet, "/settings/company/pickup", token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateLabel renders labels.
// POST /courier/generate/label
func (c *HTTPAPIClient) GenerateLabel(ctx context.Context, token string, req *ShipmentIDsRequest) (*LabelResponse, error) {
	var result LabelResponse
	if err := c.guarded(ctx, http.MethodPost, "/courier/generate/label", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateManifest renders a manifest.
// POST /manifests/generate
func (c *HTTPAPIClient) GenerateManifest(ctx context.Context, token string, req *ShipmentIDsRequest) (*ManifestResponse, error) {
	var result ManifestResponse
	if err := c.guarded(ctx, http.MethodPost, "/manifests/generate", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PrintInvoice renders invoices.
// POST /orders/print/invoice
func (c *HTTPAPIClient) PrintInvoice(ctx context.Context, token string, req *InvoiceRequest) (*InvoiceResponse, error) {
	var result InvoiceResponse
	if err := c.guarded(ctx, http.MethodPost, "/orders/print/invoice", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelShipments cancels by waybill.
// POST /orders/cancel/shipment/awbs
func (c *HTTPAPIClient) CancelShipments(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error) {
	var result CancelResponse
	if err := c.guarded(ctx, http.MethodPost, "/orders/cancel/shipment/awbs", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListShipments pages through shipments.
// GET /shipments
func (c *HTTPAPIClient) ListShipments(ctx context.Context, token string, q ListShipmentsQuery) (*ListShipmentsResponse, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Status != "" {
		params.Set("filter", q.Status)
		params.Set("filter_by", "status")
	}
	path := "/shipments"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var result ListShipmentsResponse
	if err := c.guarded(ctx, http.MethodGet, path, token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TrackShipment tracks by shipment id.
// GET /courier/track/shipment/{id}
func (c *HTTPAPIClient) TrackShipment(ctx context.Context, token string, shipmentID string) (*TrackingResponse, error) {
	var result TrackingResponse
	if err := c.guarded(ctx, http.MethodGet, "/courier/track/shipment/"+url.PathEscape(shipmentID), token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TrackAWB tracks by waybill.
// GET /courier/track/awb/{awb}
func (c *HTTPAPIClient) TrackAWB(ctx context.Context, token string, awb string) (*TrackingResponse, error) {
	var result TrackingResponse
	if err := c.guarded(ctx, http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// guarded runs call through the circuit breaker. A request abandoned by the
// caller says nothing about the provider and is not counted as a failure.
func (c *HTTPAPIClient) guarded(ctx context.Context, method, path, token string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return &APIError{Transport: err}
	}
	var callErr error
	_, err := c.breaker.Execute(func() (interface{}, error) {
		callErr = c.call(ctx, method, path, token, body, out)
		if callErr != nil && ctx.Err() != nil {
			return nil, nil
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return callErr
}

// call performs a request and decodes a 2xx body into out.
func (c *HTTPAPIClient) call(ctx context.Context, method, path, token string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, token, body)
	if err != nil {
		return &APIError{Transport: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tournevent-fulfillment/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var parsed struct {
		Message string              `json:"message"`
		Error   string              `json:"error"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Message = parsed.Message
		if apiErr.Message == "" {
			apiErr.Message = parsed.Error
		}
		apiErr.Errors = parsed.Errors
	}
	if apiErr.Message == "" {
		apiErr.Message = string(body)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// countsAsOutage reports whether err indicates the provider itself is unhealthy.
func countsAsOutage(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Transport != nil {
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
