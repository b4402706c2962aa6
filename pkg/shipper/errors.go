package shipper

import (
	"errors"
	"fmt"
)

// ShipperError represents an error returned by the logistics provider.
type ShipperError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *ShipperError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ShipperError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ShipperError.
func (e *ShipperError) Is(target error) bool {
	t, ok := target.(*ShipperError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewShipperError creates a new ShipperError.
func NewShipperError(provider, code, message string) *ShipperError {
	return &ShipperError{
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// WithCause adds a cause to the error.
func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// Sentinel errors for the fulfillment flow.
var (
	// ErrMissingCredentials indicates no credential source yielded both email and password.
	ErrMissingCredentials = errors.New("missing shipping provider credentials")

	// ErrAuthCooldown indicates a recent authentication failure; the provider must not be called yet.
	ErrAuthCooldown = errors.New("authentication cooling down after failure")

	// ErrAuthFailed indicates the provider rejected the authentication attempt.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrMissingCustomerEmail indicates no customer email could be resolved for the order.
	ErrMissingCustomerEmail = errors.New("missing customer email")

	// ErrIncompleteAddress indicates the shipping address lacks required fields.
	ErrIncompleteAddress = errors.New("incomplete shipping address")

	// ErrEmptyOrder indicates the order has no line items.
	ErrEmptyOrder = errors.New("order has no items")

	// ErrShipmentCreateFailed indicates the provider did not register the shipment.
	ErrShipmentCreateFailed = errors.New("shipment creation failed")

	// ErrNoServiceableCourier indicates no courier serves the lane.
	ErrNoServiceableCourier = errors.New("no serviceable courier")

	// ErrAwbAssignmentFailed indicates the waybill could not be assigned.
	ErrAwbAssignmentFailed = errors.New("awb assignment failed")

	// ErrOrderWriteFailed indicates the local order could not be updated.
	ErrOrderWriteFailed = errors.New("order write-back failed")

	// ErrNotificationFailed indicates the shipped notification could not be sent.
	ErrNotificationFailed = errors.New("shipped notification failed")

	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNoTrackingNumber indicates the order has no waybill yet.
	ErrNoTrackingNumber = errors.New("order has no waybill")

	// ErrNotRegistered indicates the order has no shipment with the provider.
	ErrNotRegistered = errors.New("order is not registered with the provider")

	// ErrServiceUnavailable indicates the provider is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrRateLimitExceeded indicates the provider rate limit was exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrProviderNotFound indicates the requested provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")
)

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return shipperErr.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRateLimitExceeded)
}

// IsValidation reports whether err is a local validation failure raised
// before any provider call was made.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrMissingCustomerEmail) ||
		errors.Is(err, ErrIncompleteAddress) ||
		errors.Is(err, ErrEmptyOrder)
}
