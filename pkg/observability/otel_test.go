package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	var buf bytes.Buffer
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewLogger(InfoLevel, &buf))

	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NewLogger(InfoLevel, &buf)))
}

func TestOTelConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "ParentBased{root:AlwaysOnSampler"},
		{1, "ParentBased{root:AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := OTelConfig{SampleRatio: tt.ratio}.sampler().Description()
		assert.Contains(t, got, tt.want, "ratio %v", tt.ratio)
	}
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, WithTraceContext(context.Background(), logger))
}

func TestWithTraceContext_Span(t *testing.T) {
	provider := sdktrace.NewTracerProvider()
	defer provider.Shutdown(context.Background())

	ctx, span := provider.Tracer("test").Start(context.Background(), "request")
	defer span.End()

	var buf bytes.Buffer
	WithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("handled")

	assert.Contains(t, buf.String(), `"trace_id":"`+trace.SpanContextFromContext(ctx).TraceID().String()+`"`)
	assert.Contains(t, buf.String(), `"span_id":"`)
}
