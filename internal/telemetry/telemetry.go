// Package telemetry provides OpenTelemetry metrics for taskherd.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
// # Configuration
//
//	TASKHERD_OTEL_ENABLED=true        enable metrics (default: off)
//	TASKHERD_OTEL_STDOUT=true         write metrics to stdout (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   OTLP/HTTP endpoint (e.g. localhost:4318)
//	OTEL_SERVICE_NAME=taskherd        override service name
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/taskherd/taskherd"

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active (TASKHERD_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("TASKHERD_OTEL_ENABLED") == "true"
}

// Init configures the OTel meter provider. When TASKHERD_OTEL_ENABLED is
// not "true" this installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	mp, err := buildMetricProvider(ctx, res)
	if err != nil {
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

func buildMetricProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var readers []sdkmetric.Option

	if os.Getenv("TASKHERD_OTEL_STDOUT") == "true" {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	// Default to stdout when enabled but no exporter is configured.
	if len(readers) == 0 {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	opts := append([]sdkmetric.Option{sdkmetric.WithResource(res)}, readers...)
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Meter returns the taskherd meter from the installed provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// Shutdown flushes and stops every installed provider.
func Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var firstErr error
	for _, fn := range shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	shutdownFns = nil
	return firstErr
}
