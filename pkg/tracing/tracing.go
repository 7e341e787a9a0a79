package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName = "defi-scout"
	defaultEndpoint    = "localhost:4317"
	serviceVersion     = "1.0.0"
)

var newTraceExporter = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
}

// settings are read from the environment so every binary traces the same way
// without threading config through.
type settings struct {
	enabled     bool
	endpoint    string
	serviceName string
	environment string
	sampleRatio float64
}

func settingsFromEnv() settings {
	s := settings{
		enabled:     os.Getenv("TRACING_ENABLED") != "false",
		endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		serviceName: strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")),
		environment: strings.TrimSpace(os.Getenv("DEPLOY_ENV")),
		sampleRatio: 1,
	}
	if s.endpoint == "" {
		s.endpoint = defaultEndpoint
	}
	if s.serviceName == "" {
		s.serviceName = defaultServiceName
	}
	if raw := os.Getenv("TRACING_SAMPLE_RATIO"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			s.sampleRatio = v
		}
	}
	return s
}

// sampler keeps the caller's decision for propagated traces and samples new
// roots at the configured ratio.
func (s settings) sampler() sdktrace.Sampler {
	if s.sampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.sampleRatio))
}

func InitTracer(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
	s := settingsFromEnv()
	if !s.enabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, tp.Tracer(s.serviceName), nil
	}

	exporter, err := newTraceExporter(ctx, s.endpoint)
	if err != nil {
		return nil, nil, err
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.serviceName),
		semconv.ServiceVersion(serviceVersion),
	}
	if s.environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(s.environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(s.sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, tp.Tracer(s.serviceName), nil
}
