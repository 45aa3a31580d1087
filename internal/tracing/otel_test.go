package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestStartSpanSetsTraceID(t *testing.T) {
	if err := InitOpenTelemetry("deepchat-test", "test"); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer ShutdownOpenTelemetry(context.Background())

	ctx := WithSessionID(context.Background(), "s1")
	ctx, span := StartSpan(ctx, "test", "operation")
	defer EndSpan(span, errors.New("failed"))

	if GetTraceID(ctx) == "" {
		t.Error("trace ID not propagated from span")
	}
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span")
	}
}
