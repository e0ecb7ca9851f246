// Package trace provides tracing instrumentation for measurement runs.
package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fcp-performance/fcp-performance/log"
)

const (
	serviceName = "fcp-performance"
	tracerName  = "fcp"
)

// ErrUnsupportedProto indicates that the defined exporter protocol is not supported.
var ErrUnsupportedProto = errors.New("unsupported protocol")

// TraceProvider provides methods for tracers initialization and shutdown of the
// processing pipeline.
type TraceProvider interface {
	Tracer(name string, options ...trace.TracerOption) trace.Tracer
	Shutdown(ctx context.Context) error
}

type traceProvider struct {
	trace.TracerProvider

	noop bool

	shutdown func(ctx context.Context) error
}

// NewTraceProvider creates a new trace provider exporting spans over OTLP.
func NewTraceProvider(
	ctx context.Context, proto, endpoint string, insecure bool,
) (TraceProvider, error) {
	client, err := newClient(proto, endpoint, insecure)
	if err != nil {
		return nil, fmt.Errorf("creating exporter client: %w", err)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource()),
	)

	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		shutdown:       prov.Shutdown,
	}, nil
}

func newResource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
}

func newClient(proto, endpoint string, insecure bool) (otlptrace.Client, error) {
	// TODO: Support gRPC
	switch strings.ToLower(proto) {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.NewClient(opts...), nil
	default:
		return nil, ErrUnsupportedProto
	}
}

// NewNoopTraceProvider creates a new noop trace provider.
func NewNoopTraceProvider() TraceProvider {
	return &traceProvider{
		TracerProvider: trace.NewNoopTracerProvider(),
		noop:           true,
	}
}

// Shutdown shuts down TracerProvider releasing any held computational resources.
// After Shutdown is called, all methods are no-ops.
func (tp *traceProvider) Shutdown(ctx context.Context) error {
	if tp.noop {
		return nil
	}

	return tp.shutdown(ctx)
}

// Tracer generates spans for a measurement run: one root span for the
// run and a child span per measured URL.
type Tracer struct {
	trace.Tracer

	logger   *log.Logger
	metadata []attribute.KeyValue
}

// NewTracer creates a new Tracer from the given TraceProvider. Every span
// it starts carries metadata as attributes.
func NewTracer(logger *log.Logger, tp TraceProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	return &Tracer{
		Tracer:   tp.Tracer(tracerName, options...),
		logger:   logger,
		metadata: buildMetadataAttributes(metadata),
	}
}

// NewNoopTracer returns a Tracer whose spans are never recorded.
func NewNoopTracer() *Tracer {
	return NewTracer(log.NewNullLogger(), NewNoopTraceProvider(), nil)
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// TraceRun starts the root span of a run over urlCount URLs. It is the
// caller's responsibility to end it.
func (t *Tracer) TraceRun(ctx context.Context, urlCount int) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "run", trace.WithAttributes(attribute.Int("fcp.url_count", urlCount)))
	t.logger.Debugf("Tracer:TraceRun", "traceID:%q urls:%d", GetTraceID(span.SpanContext()), urlCount)

	return ctx, span
}

// TraceMeasurement starts a span for measuring url, as a child of the run
// span if ctx carries one. It is the caller's responsibility to end it.
func (t *Tracer) TraceMeasurement(ctx context.Context, url string) (context.Context, trace.Span) {
	return t.Start(ctx, "measure", trace.WithAttributes(attribute.String("url.full", url)))
}

// RecordFailure marks span as failed with err.
func RecordFailure(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the trace ID of spanCtx or an empty string.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}
