package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kart-io/commshub/pkg/status"
)

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p, err := NewWithTracer(tp, noop.NewMeterProvider())
	require.NoError(t, err)

	ctx, root := p.StartDispatch(context.Background(), "d-1", "welcome")
	_, ch := p.StartChannel(ctx, "welcome", "email", "smtp", 2)
	p.RecordResult(ctx, "email", status.Dispatched, 5*time.Millisecond)
	End(ch, errors.New("boom"))
	End(root, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "commshub.channel", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "commshub.dispatch", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestDisabledAndNil(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	ctx, span := p.StartDispatch(context.Background(), "d", "i")
	End(span, nil)
	assert.NotNil(t, ctx)
	assert.NoError(t, p.Shutdown(context.Background()))

	var none *Provider
	_, span = none.StartChannel(context.Background(), "p", "c", "x", 1)
	assert.NotPanics(t, func() {
		none.RecordResult(context.Background(), "c", status.Dispatched, time.Second)
		End(span, nil)
	})
	assert.NoError(t, none.Shutdown(context.Background()))
}

func TestNilProviderLeavesParentSpanOpen(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, parent := tp.Tracer("test").Start(context.Background(), "request")

	var none *Provider
	ctx, span := none.StartDispatch(ctx, "d", "welcome")
	_, ch := none.StartChannel(ctx, "welcome", "email", "smtp", 1)
	End(ch, errors.New("boom"))
	End(span, nil)

	assert.True(t, parent.IsRecording())
	assert.Empty(t, rec.Ended())
	parent.End()
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Unset, rec.Ended()[0].Status().Code)
}

func TestResultAttributes(t *testing.T) {
	tests := []struct {
		status  status.CommunicationsStatus
		outcome string
	}{
		{status.Dispatched, "success"},
		{status.Queued, "success"},
		{status.ChannelGenerationFailed.WithReason("template: missing key"), "client_error"},
		{status.DispatcherFailed.WithReason("dial tcp: connection refused"), "server_error"},
		{status.New("twilio", "odd", 42), "unknown"},
	}
	for _, tt := range tests {
		attrs := resultAttributes("sms", tt.status)
		for _, kv := range attrs {
			assert.NotEqual(t, "status", string(kv.Key))
			assert.NotEqual(t, tt.status.Reason, kv.Value.Emit())
		}
		assert.Equal(t, tt.outcome, attrs[3].Value.AsString())
		assert.Equal(t, int64(tt.status.Code), attrs[2].Value.AsInt64())
	}
}
