package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "gateway-test")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHTTPMiddlewareDefaultsServiceName(t *testing.T) {
	if mw := HTTPMiddleware(""); mw == nil {
		t.Fatalf("expected middleware")
	}
}
