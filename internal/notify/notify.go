// Package notify tells the storefront's transactional mailer that an order
// has shipped.
package notify

import (
	"context"
	"time"

	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Notifier sends the shipped notification for an order snapshot.
type Notifier interface {
	SendShipped(ctx context.Context, order *orders.Order) error
}

// ShippedEvent is the payload consumed by the mailer.
type ShippedEvent struct {
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderLabel     string    `json:"orderLabel"`
	Email          string    `json:"email"`
	CustomerName   string    `json:"customerName"`
	TrackingNumber string    `json:"trackingNumber"`
	TrackingURL    string    `json:"trackingUrl,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventShipped is the ShippedEvent type value.
const EventShipped = "order.shipped"

// LogNotifier only logs. It is used when no broker is configured.
type LogNotifier struct {
	logger *otelzap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *otelzap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendShipped logs the notification.
func (n *LogNotifier) SendShipped(ctx context.Context, order *orders.Order) error {
	n.logger.Ctx(ctx).Info("Order shipped",
		zap.String("order_id", order.ID),
		zap.String("tracking_number", order.TrackingNumber),
	)
	return nil
}
