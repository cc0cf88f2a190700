package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config describes where lazyload spans go and how many are kept.
type Config struct {
	ServiceName string
	// Mode is "cli" for fetch sessions and "server" for the HTTP service.
	Mode string
	// Endpoint is host:port for plain HTTP or a full http(s):// URL.
	Endpoint string
	Enabled  bool
	// SamplingRate outside (0, 1) switches to never or always sampling.
	SamplingRate float64
	// Attributes are added to the resource, e.g. the loader's slot count.
	Attributes []attribute.KeyValue
}

// InitTracer builds the tracer provider for a lazyload process and installs
// it globally. Tracing off returns a nil provider and no error.
func InitTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx, endpointOptions(cfg.Endpoint)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "lazyload"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceNamespace("sidechain"),
		attribute.String("lazyload.mode", cfg.Mode),
	}
	attrs = append(attrs, cfg.Attributes...)

	return resource.New(ctx,
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

// newSampler follows the parent's decision so image spans stay attached to
// the request that enqueued them.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate <= 0:
		root = sdktrace.NeverSample()
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func endpointOptions(endpoint string) []otlptracehttp.Option {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	case strings.HasPrefix(endpoint, "http://"):
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint), otlptracehttp.WithInsecure()}
	default:
		return []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure()}
	}
}

// NewTransport wraps base (or http.DefaultTransport) so every image fetch
// is traced as a client span.
func NewTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "image " + r.Method
		}),
	)
}
