package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/internal/shipment"
)

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TrackingURLFunc builds the public tracking link for a tracking number.
type TrackingURLFunc func(trackingNumber string) (string, bool)

// KafkaConfig holds the broker settings.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaNotifier publishes ShippedEvent messages keyed by order id.
type KafkaNotifier struct {
	writer      messageWriter
	trackingURL TrackingURLFunc
	now         func() time.Time
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic.
func NewKafkaNotifier(cfg KafkaConfig, trackingURL TrackingURLFunc) *KafkaNotifier {
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
		Async:        false,
	}, trackingURL)
}

func newKafkaNotifier(w messageWriter, trackingURL TrackingURLFunc) *KafkaNotifier {
	return &KafkaNotifier{writer: w, trackingURL: trackingURL, now: time.Now}
}

// SendShipped publishes the event and waits for the broker to acknowledge it.
func (n *KafkaNotifier) SendShipped(ctx context.Context, order *orders.Order) error {
	event := ShippedEvent{
		EventID:        uuid.NewString(),
		Type:           EventShipped,
		OrderID:        order.ID,
		OrderLabel:     order.DisplayLabel(),
		Email:          shipment.CustomerEmail(order),
		CustomerName:   strings.TrimSpace(order.Shipping.FirstName + " " + order.Shipping.LastName),
		TrackingNumber: order.TrackingNumber,
		OccurredAt:     n.now().UTC(),
	}
	if n.trackingURL != nil {
		if u, ok := n.trackingURL(order.TrackingNumber); ok {
			event.TrackingURL = u
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventShipped)},
			{Key: "event-id", Value: []byte(event.EventID)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: event.OccurredAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for order %s: %w", EventShipped, order.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
