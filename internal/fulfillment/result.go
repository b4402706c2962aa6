package fulfillment

import "fmt"

// State is the fulfillment state of an order.
type State string

const (
	StateNotShipped  State = "not_shipped"
	StateRegistered  State = "registered"
	StateAwbAssigned State = "awb_assigned"
	StateFailed      State = "failed"
)

// Result is the outcome of FulfillOrder.
type Result struct {
	OrderID            string   `json:"orderId"`
	OrderLabel         string   `json:"orderLabel"`
	Success            bool     `json:"success"`
	Skipped            bool     `json:"skipped"`
	State              State    `json:"state"`
	TrackingNumber     string   `json:"trackingNumber"`
	ProviderOrderID    string   `json:"providerOrderId,omitempty"`
	ProviderShipmentID string   `json:"providerShipmentId,omitempty"`
	AWBCode            string   `json:"awbCode,omitempty"`
	CourierName        string   `json:"courierName,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`

	warnings []error
}

// Errs returns the non-fatal errors recorded during fulfillment.
func (r *Result) Errs() []error {
	return r.warnings
}

func (r *Result) warn(err error) {
	r.warnings = append(r.warnings, err)
	r.Warnings = append(r.Warnings, err.Error())
}

// Message is the one-line summary shown to whoever triggered the fulfillment.
func (r *Result) Message() string {
	switch {
	case r.Skipped:
		return fmt.Sprintf("Order %s already fulfilled (%s)", r.OrderLabel, r.TrackingNumber)
	case r.State == StateAwbAssigned && r.CourierName != "":
		return fmt.Sprintf("Order %s shipped: AWB %s via %s", r.OrderLabel, r.AWBCode, r.CourierName)
	case r.State == StateAwbAssigned:
		return fmt.Sprintf("Order %s shipped: AWB %s", r.OrderLabel, r.AWBCode)
	default:
		return fmt.Sprintf("Order %s registered as %s, awaiting courier assignment", r.OrderLabel, r.TrackingNumber)
	}
}
