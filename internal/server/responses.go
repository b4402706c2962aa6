package server

import (
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

type courierQuote struct {
	CourierCompanyID      int     `json:"courierCompanyId"`
	CourierName           string  `json:"courierName"`
	Rate                  float64 `json:"rate"`
	EstimatedDeliveryDays string  `json:"estimatedDeliveryDays,omitempty"`
	CODAvailable          bool    `json:"codAvailable"`
}

func toCourierQuote(o shipper.CourierOption) courierQuote {
	return courierQuote{
		CourierCompanyID:      o.CourierCompanyID,
		CourierName:           o.CourierName,
		Rate:                  o.Rate,
		EstimatedDeliveryDays: o.EstimatedDeliveryDays,
		CODAvailable:          o.CODAvailable,
	}
}

type documentResponse struct {
	Kind       string   `json:"kind"`
	URL        string   `json:"url"`
	NotCreated []string `json:"notCreated,omitempty"`
}

type trackingEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status,omitempty"`
}

type trackingResponse struct {
	AWBCode           string          `json:"awbCode,omitempty"`
	ShipmentID        string          `json:"shipmentId,omitempty"`
	Status            string          `json:"status"`
	RawStatus         string          `json:"rawStatus,omitempty"`
	CourierName       string          `json:"courierName,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	TrackURL          string          `json:"trackUrl,omitempty"`
	Events            []trackingEvent `json:"events"`
}

func toTrackingResponse(t *shipper.Tracking) trackingResponse {
	events := make([]trackingEvent, len(t.Events))
	for i, e := range t.Events {
		events[i] = trackingEvent{
			Timestamp:   e.Timestamp,
			Description: e.Description,
			Location:    e.Location,
			Status:      e.Status,
		}
	}
	return trackingResponse{
		AWBCode:           t.AWBCode,
		ShipmentID:        t.ShipmentID,
		Status:            string(t.Status),
		RawStatus:         t.RawStatus,
		CourierName:       t.CourierName,
		EstimatedDelivery: t.EstimatedDelivery,
		TrackURL:          t.TrackURL,
		Events:            events,
	}
}

type shipmentRow struct {
	ProviderShipmentID string     `json:"providerShipmentId"`
	ProviderOrderID    string     `json:"providerOrderId,omitempty"`
	ChannelOrderID     string     `json:"channelOrderId,omitempty"`
	AWBCode            string     `json:"awbCode,omitempty"`
	CourierName        string     `json:"courierName,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
}

func toShipmentRow(s shipper.ShipmentSummary) shipmentRow {
	return shipmentRow{
		ProviderShipmentID: s.ProviderShipmentID,
		ProviderOrderID:    s.ProviderOrderID,
		ChannelOrderID:     s.ChannelOrderID,
		AWBCode:            s.AWBCode,
		CourierName:        s.CourierName,
		Status:             s.Status,
		CreatedAt:          s.CreatedAt,
	}
}
