package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopBundleDoesNotPanic(t *testing.T) {
	b := Noop()
	ctx := context.Background()

	b.Logger.Info(ctx, "hello", "key", "value")
	b.Metrics.IncCounter("counter", 1, "tag")
	spanCtx, span := b.Tracer.Start(ctx, "op")
	assert.Equal(t, ctx, spanCtx)
	span.AddEvent("event")
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestNoopTracerSpanReturnsUsableSpan(t *testing.T) {
	tr := NewNoopTracer()
	span := tr.Span(context.Background())
	assert.NotNil(t, span)
}
