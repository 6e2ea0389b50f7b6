// Package telemetry wraps OpenTelemetry tracing and metrics for dispatches.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kart-io/commshub/pkg/status"
)

const instrumentation = "github.com/kart-io/commshub"

// Config configures the provider.
type Config struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	ServiceName    string            `yaml:"service_name" json:"service_name"`
	ServiceVersion string            `yaml:"service_version" json:"service_version"`
	Environment    string            `yaml:"environment" json:"environment"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" json:"otlp_headers"`
	Insecure       bool              `yaml:"insecure" json:"insecure"`
	SampleRate     float64           `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "commshub",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4318",
		SampleRate:     1.0,
	}
}

// Provider emits spans and counters around dispatch operations.
// A nil *Provider is valid and records nothing.
type Provider struct {
	config        Config
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider

	dispatches   metric.Int64Counter
	results      metric.Int64Counter
	sendDuration metric.Float64Histogram
}

// New creates a provider. When config is disabled the global (usually no-op)
// tracer and meter are used.
func New(config Config) (*Provider, error) {
	p := &Provider{config: config}
	if !config.Enabled {
		p.tracer = otel.Tracer(instrumentation)
		p.meter = otel.Meter(instrumentation)
		return p, p.initMetrics()
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
	if len(config.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.OTLPHeaders))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	p.traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)
	otel.SetTracerProvider(p.traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	p.tracer = p.traceProvider.Tracer(instrumentation, trace.WithSchemaURL(semconv.SchemaURL))
	p.meter = otel.Meter(instrumentation, metric.WithSchemaURL(semconv.SchemaURL))
	return p, p.initMetrics()
}

// NewWithTracer creates a provider around an existing tracer provider.
func NewWithTracer(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		tracer: tp.Tracer(instrumentation),
		meter:  mp.Meter(instrumentation),
	}
	return p, p.initMetrics()
}

func (p *Provider) initMetrics() error {
	var err error
	p.dispatches, err = p.meter.Int64Counter(
		"commshub_dispatches_total",
		metric.WithDescription("Total number of dispatch requests"),
	)
	if err != nil {
		return fmt.Errorf("create dispatches counter: %w", err)
	}
	p.results, err = p.meter.Int64Counter(
		"commshub_dispatch_results_total",
		metric.WithDescription("Dispatch results by channel and status"),
	)
	if err != nil {
		return fmt.Errorf("create results counter: %w", err)
	}
	p.sendDuration, err = p.meter.Float64Histogram(
		"commshub_send_duration_seconds",
		metric.WithDescription("Duration of provider dispatches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create send_duration histogram: %w", err)
	}
	return nil
}

// StartDispatch opens the root span of a dispatch. A nil provider returns a
// no-op span and leaves the caller's span untouched.
func (p *Provider) StartDispatch(ctx context.Context, dispatchID, intent string) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, noop.Span{}
	}
	p.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
	return p.tracer.Start(ctx, "commshub.dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("commshub.dispatch.id", dispatchID),
			attribute.String("commshub.intent", intent),
		),
	)
}

// StartChannel opens a child span for one channel of a pipeline.
func (p *Provider) StartChannel(ctx context.Context, pipeline, channelID, providerID string, recipients int) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, noop.Span{}
	}
	return p.tracer.Start(ctx, "commshub.channel",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("commshub.pipeline", pipeline),
			attribute.String("commshub.channel", channelID),
			attribute.String("commshub.provider", providerID),
			attribute.Int("commshub.recipients.count", recipients),
		),
	)
}

// RecordResult counts one result and records the provider duration.
func (p *Provider) RecordResult(ctx context.Context, channelID string, s status.CommunicationsStatus, duration time.Duration) {
	if p == nil || p.results == nil {
		return
	}
	attrs := metric.WithAttributes(resultAttributes(channelID, s)...)
	p.results.Add(ctx, 1, attrs)
	if duration > 0 {
		p.sendDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// resultAttributes labels a result by its code only; reasons carry free text.
func resultAttributes(channelID string, s status.CommunicationsStatus) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("channel", channelID),
		attribute.String("source", s.Source),
		attribute.Int("code", s.Code),
		attribute.String("outcome", outcome(s)),
	}
}

func outcome(s status.CommunicationsStatus) string {
	switch {
	case s.IsSuccess():
		return "success"
	case s.IsClientError():
		return "client_error"
	case s.IsServerError():
		return "server_error"
	default:
		return "unknown"
	}
}

// End finishes span, marking it failed when err is non-nil.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the exporter, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.traceProvider == nil {
		return nil
	}
	return p.traceProvider.Shutdown(ctx)
}

// Tracer returns the tracer in use.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}
