package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"paypersist/internal/config"
)

func TestInitDisabledStillPropagates(t *testing.T) {
	tp, err := Init(config.TracingConfig{}, "")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "message_id", Value: []byte("M1")}})
	require.Len(t, headers, 2)
	assert.Equal(t, "traceparent", headers[1].Key)

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, spanCtx.TraceID(), extracted.TraceID())
	assert.Equal(t, spanCtx.SpanID(), extracted.SpanID())
}

func TestKafkaHeaderCarrierOverwritesExistingKey(t *testing.T) {
	carrier := &kafkaHeaderCarrier{headers: []kafka.Header{{Key: "traceparent", Value: []byte("old")}}}
	carrier.Set("traceparent", "new")

	assert.Equal(t, "new", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
	assert.Empty(t, carrier.Get("missing"))
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		cfg  config.SamplerConfig
		want string
	}{
		{config.SamplerConfig{}, "AlwaysOnSampler"},
		{config.SamplerConfig{Type: "always_off"}, "AlwaysOffSampler"},
		{config.SamplerConfig{Type: "TraceIDRatio", Param: 0.5}, "TraceIDRatioBased{0.5}"},
		{config.SamplerConfig{Type: "parentbased_always_on"}, "ParentBased{root:AlwaysOnSampler"},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			assert.Contains(t, newSampler(tt.cfg).Description(), tt.want)
		})
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "write")
	EndSpan(span, errors.New("connection reset"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "connection reset", ended[0].Status().Description)
}
