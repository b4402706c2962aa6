package telemetry_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_Record(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())

	m.ObserveProviderRequest("create_shipment", "ok", 120*time.Millisecond)
	m.ObserveProviderRequest("create_shipment", "ok", 80*time.Millisecond)
	m.ObserveTokenRefresh("failure")
	m.ObserveFulfillment("awb_assigned")
	m.ObserveBatchEntry(true)
	m.ObserveBatchEntry(false)
	m.ObserveBreakerState("shiprocket", "open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("create_shipment", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fulfillments.WithLabelValues("awb_assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchEntries.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("shiprocket")))

	m.ObserveBreakerState("shiprocket", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("shiprocket")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.Metrics

	assert.NotPanics(t, func() {
		m.ObserveProviderRequest("x", "ok", time.Second)
		m.ObserveTokenRefresh("success")
		m.ObserveFulfillment("failed")
		m.ObserveBatchEntry(true)
		m.ObserveBreakerState("x", "open")
	})
}

func TestNewLogger_UnknownLevelFallsBack(t *testing.T) {
	logger, err := telemetry.NewLogger("chatty")

	assert.NoError(t, err)
	assert.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLogger_ParsesLevel(t *testing.T) {
	logger, err := telemetry.NewLogger(" WARN ")

	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
