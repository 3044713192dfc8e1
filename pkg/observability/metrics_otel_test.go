package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetrics_RecordDBStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := newOTelMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordDBStats(context.Background(), sql.DBStats{InUse: 3, Idle: 2, WaitCount: 7, WaitDuration: 1500 * time.Millisecond})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		byName[metric.Name] = metric
	}

	usage, ok := byName["db.client.connections.usage"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, usage.DataPoints, 2)

	waits, ok := byName["db.client.connections.wait_count"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, waits.DataPoints, 1)
	assert.Equal(t, int64(7), waits.DataPoints[0].Value)

	waitTime, ok := byName["db.client.connections.wait_time"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, waitTime.DataPoints, 1)
	assert.InDelta(t, 1.5, waitTime.DataPoints[0].Value, 1e-9)
}

func TestNewOTelMetrics_GlobalMeter(t *testing.T) {
	m, err := NewOTelMetrics()
	require.NoError(t, err)
	m.RecordDBStats(context.Background(), sql.DBStats{})
}
