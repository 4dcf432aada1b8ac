package otel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/protoflow/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const metricExportInterval = 15 * time.Second

// Setup initialises OpenTelemetry tracing and metrics for the given service.
//
// Telemetry is opt-in: PROTOFLOW_OTEL_ENDPOINT enables the OTLP/HTTP trace
// exporter and PROTOFLOW_OTEL_METRICS_ENDPOINT the OTLP/gRPC metric exporter.
// PROTOFLOW_OTEL_ENABLED=false disables both. Without an endpoint the global
// no-op providers stay in place.
//
// The returned shutdown function flushes pending data and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(config.Lookup("OTEL_ENABLED"), "false") {
		return noop, nil
	}

	traceEndpoint := config.Lookup("OTEL_ENDPOINT")
	metricEndpoint := config.Lookup("OTEL_METRICS_ENDPOINT")
	if traceEndpoint == "" && metricEndpoint == "" {
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	var shutdowns []func(context.Context) error
	if traceEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(traceEndpoint),
		)
		if err != nil {
			return noop, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if metricEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(metricEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return joinShutdown(shutdowns), err
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return joinShutdown(shutdowns), nil
}

func joinShutdown(fns []func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range fns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}
}
