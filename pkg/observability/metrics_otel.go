package observability

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the connection pool gauges onto the OTLP meter so
// that they reach the collector alongside traces. With OpenTelemetry
// disabled the global meter is a no-op.
type OTelMetrics struct {
	dbConnections metric.Int64Gauge
	dbWaitCount   metric.Int64Gauge
	dbWaitTime    metric.Float64Gauge
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return newOTelMetrics(otel.Meter("github.com/gaspipe/docvault"))
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.dbConnections, err = meter.Int64Gauge(
		"db.client.connections.usage",
		metric.WithDescription("Database connections by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db connections gauge: %w", err)
	}

	m.dbWaitCount, err = meter.Int64Gauge(
		"db.client.connections.wait_count",
		metric.WithDescription("Total number of connections waited for"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db wait count gauge: %w", err)
	}

	m.dbWaitTime, err = meter.Float64Gauge(
		"db.client.connections.wait_time",
		metric.WithDescription("Total time blocked waiting for a connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db wait time gauge: %w", err)
	}

	return m, nil
}

// RecordDBStats records the pool statistics
func (m *OTelMetrics) RecordDBStats(ctx context.Context, stats sql.DBStats) {
	m.dbConnections.Record(ctx, int64(stats.InUse), metric.WithAttributes(attribute.String("state", "used")))
	m.dbConnections.Record(ctx, int64(stats.Idle), metric.WithAttributes(attribute.String("state", "idle")))
	m.dbWaitCount.Record(ctx, stats.WaitCount)
	m.dbWaitTime.Record(ctx, stats.WaitDuration.Seconds())
}
