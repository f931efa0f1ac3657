// Package otel wires OpenTelemetry tracing and Prometheus-backed metrics for
// the connector.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bturcanu/openclause-apitable/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const DefaultServiceName = "oc-connector-apitable"

// Config holds setup parameters.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // e.g. "localhost:4318"; empty disables tracing
	// MetricsEnabled registers a Prometheus reader on the default registry.
	MetricsEnabled bool
}

// ConfigFromEnv reads OTEL_SERVICE_NAME and OTEL_EXPORTER_OTLP_ENDPOINT.
// Metrics are always enabled.
func ConfigFromEnv() Config {
	return Config{
		ServiceName:    config.EnvOr("OTEL_SERVICE_NAME", DefaultServiceName),
		OTLPEndpoint:   config.EnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsEnabled: true,
	}
}

// TracingEnabled reports whether an OTLP exporter will be installed.
func (c Config) TracingEnabled() bool { return c.OTLPEndpoint != "" }

// Shutdown flushes and stops the installed providers.
type Shutdown func(ctx context.Context) error

// Setup installs the global tracer and meter providers and the W3C
// propagators. The returned Shutdown must be called on exit.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}

	if cfg.TracingEnabled() {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.MetricsEnabled {
		reader, err := prometheus.New()
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("otel prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return shutdown, nil
}
