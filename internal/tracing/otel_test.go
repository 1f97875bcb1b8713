package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{name: "unset defaults to one", value: "", want: 1},
		{name: "valid ratio", value: "0.25", want: 0.25},
		{name: "zero disables sampling", value: "0", want: 0},
		{name: "unparseable falls back", value: "lots", want: 1},
		{name: "above one falls back", value: "2", want: 1},
		{name: "negative falls back", value: "-0.5", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(sampleRatioEnv, tt.value)
			assert.Equal(t, tt.want, sampleRatio())
		})
	}
}

func TestStartSpanPropagatesTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("tern-test", "0.0.0"))

	ctx, span := StartSpan(context.Background(), "unit.op")
	defer span.End()

	require.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("tern-test", "0.0.0"))

	ctx := WithTraceID(context.Background(), "trace-from-caller")
	ctx, span := StartSpan(ctx, "unit.op")
	defer span.End()

	assert.Equal(t, "trace-from-caller", GetTraceID(ctx))
}

func TestStartSpanNilContext(t *testing.T) {
	ctx, span := StartSpan(nil, "unit.op") //nolint:staticcheck
	defer span.End()

	assert.NotNil(t, ctx)
}
