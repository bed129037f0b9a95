package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	ctx := context.Background()
	if Logger(ctx) != NoopLogger() {
		t.Fatalf("expected noop logger for bare context")
	}
	if Logger(WithLogger(ctx, nil)) != NoopLogger() {
		t.Fatalf("expected noop logger when nil is stored")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(ctx, logger)) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceResource(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc123", ProjectID: "deckforge-prod"})
	info, ok := Trace(ctx)
	if !ok || TraceID(ctx) != "abc123" {
		t.Fatalf("expected trace info, got %+v", info)
	}
	if got := info.Resource(); got != "projects/deckforge-prod/traces/abc123" {
		t.Fatalf("unexpected resource %q", got)
	}
	if (TraceInfo{TraceID: "abc123"}).Resource() != "" {
		t.Fatalf("resource requires a project")
	}
	if _, ok := Trace(context.Background()); ok {
		t.Fatalf("expected no trace on bare context")
	}
}
