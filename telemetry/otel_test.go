package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestOTelProviderSpans(t *testing.T) {
	provider, err := NewOTelProvider("federator-test")
	if err != nil {
		t.Fatalf("NewOTelProvider failed: %v", err)
	}
	defer func() {
		_ = provider.Shutdown(context.Background())
	}()

	ctx, span := provider.StartSpan(context.Background(), "test.operation")
	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}

	span.SetAttribute("string", "value")
	span.SetAttribute("int", 42)
	span.SetAttribute("int64", int64(42))
	span.SetAttribute("float", 1.5)
	span.SetAttribute("bool", true)
	span.SetAttribute("other", struct{ X int }{1})
	span.RecordError(errors.New("recorded"))
	span.End()

	// Nested spans share the parent context
	_, child := provider.StartSpan(ctx, "test.child")
	child.End()
}

func TestOTelProviderShutdown(t *testing.T) {
	provider, err := NewOTelProvider("federator-test")
	if err != nil {
		t.Fatalf("NewOTelProvider failed: %v", err)
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
