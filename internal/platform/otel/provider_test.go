package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/protoflow/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("PROTOFLOW_OTEL_ENDPOINT", "")
	t.Setenv("PROTOFLOW_OTEL_METRICS_ENDPOINT", "")
	t.Setenv("PROTOFLOW_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("PROTOFLOW_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("PROTOFLOW_OTEL_METRICS_ENDPOINT", "localhost:4317")
	t.Setenv("PROTOFLOW_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesTraceProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv("PROTOFLOW_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("PROTOFLOW_OTEL_METRICS_ENDPOINT", "")
	t.Setenv("PROTOFLOW_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopShutdownIgnoresCancelledContext(t *testing.T) {
	t.Setenv("PROTOFLOW_OTEL_ENDPOINT", "")
	t.Setenv("PROTOFLOW_OTEL_METRICS_ENDPOINT", "")
	t.Setenv("PROTOFLOW_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "noop-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}
