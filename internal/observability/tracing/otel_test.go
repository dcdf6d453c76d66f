package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitDisabledInstallsPropagator(t *testing.T) {
	p, err := Init(context.Background(), DefaultConfig("validrx-test"))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("traceparent propagator not installed, fields = %v", fields)
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown without exporter: %v", err)
	}
}
