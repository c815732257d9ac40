package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OperationMetrics records per-operation counters and latency.
type OperationMetrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewOperationMetrics builds the instruments on the installed provider.
// With the no-op provider every recording is free.
func NewOperationMetrics() (*OperationMetrics, error) {
	meter := Meter()

	invocations, err := meter.Int64Counter("taskherd.operation.invocations",
		metric.WithDescription("Tool operation invocations by name and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("taskherd.operation.duration",
		metric.WithDescription("Tool operation duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &OperationMetrics{invocations: invocations, duration: duration}, nil
}

// Record logs one operation outcome.
func (m *OperationMetrics) Record(ctx context.Context, operation string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
