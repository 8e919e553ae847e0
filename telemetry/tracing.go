package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by pipeline stages.
const TracerName = "clip-tender"

// InitTracing exports spans over OTLP/gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is
// set; otherwise spans stay no-ops. attrs are added to the service resource
// (ledger backend, dry run) so traces from different deployments can be told
// apart. OTEL_TRACES_SAMPLER_ARG sets the root sampling ratio (default 1).
// The returned function flushes pending spans.
func InitTracing(serviceName, serviceVersion string, attrs ...attribute.KeyValue) (func(), error) {
	logger := slog.Default().With(slog.String("component", "telemetry"))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}
	sampler, ratio, err := samplerFromEnv()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "0" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	res, err := serviceResource(ctx, serviceName, serviceVersion, attrs...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized", slog.String("endpoint", endpoint), slog.Float64("sample_ratio", ratio))

	return func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Error("tracer shutdown", slog.Any("err", err))
		}
	}, nil
}

func serviceResource(ctx context.Context, name, version string, attrs ...attribute.KeyValue) (*resource.Resource, error) {
	kv := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(version),
	}
	if host, err := os.Hostname(); err == nil {
		kv = append(kv, semconv.HostName(host))
	}
	res, err := resource.New(ctx, resource.WithAttributes(append(kv, attrs...)...))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}
	return res, nil
}

// samplerFromEnv samples child spans with their parent and roots by ratio.
func samplerFromEnv() (sdktrace.Sampler, float64, error) {
	ratio := 1.0
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 || r > 1 {
			return nil, 0, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG %q (want 0..1)", v)
		}
		ratio = r
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), ratio, nil
}

// StartSpan starts a span, attaching the correlation id when present.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// EndSpan closes span. Cancellation is tagged rather than recorded as an error.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.Canceled):
		span.SetAttributes(attribute.Bool("cancelled", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
