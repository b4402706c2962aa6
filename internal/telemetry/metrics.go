package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics
// records nothing.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	TokenRefreshes   *prometheus.CounterVec
	Fulfillments     *prometheus.CounterVec
	BatchEntries     *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
}

// NewMetrics creates the metrics and registers them on reg. A nil reg
// registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_provider_requests_total",
				Help: "Total number of shipping provider requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_provider_request_duration_seconds",
				Help:    "Shipping provider request duration in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_token_refreshes_total",
				Help: "Provider token refresh attempts by result",
			},
			[]string{"result"},
		),
		Fulfillments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_orders_total",
				Help: "Single-order fulfillments by final state",
			},
			[]string{"state"},
		),
		BatchEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_batch_entries_total",
				Help: "Batch ledger entries by result",
			},
			[]string{"result"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fulfillment_provider_breaker_open",
				Help: "1 while the provider circuit breaker is not closed",
			},
			[]string{"provider"},
		),
	}
}

// ObserveProviderRequest records one provider call.
func (m *Metrics) ObserveProviderRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(operation, outcome).Inc()
	m.ProviderDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveTokenRefresh records a token refresh result.
func (m *Metrics) ObserveTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveFulfillment records the state a fulfillment ended in.
func (m *Metrics) ObserveFulfillment(state string) {
	if m == nil {
		return
	}
	m.Fulfillments.WithLabelValues(state).Inc()
}

// ObserveBatchEntry records one batch ledger entry.
func (m *Metrics) ObserveBatchEntry(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.BatchEntries.WithLabelValues(result).Inc()
}

// ObserveBreakerState records a circuit breaker transition.
func (m *Metrics) ObserveBreakerState(provider, to string) {
	if m == nil {
		return
	}
	open := 0.0
	if to != "closed" {
		open = 1
	}
	m.BreakerState.WithLabelValues(provider).Set(open)
}
