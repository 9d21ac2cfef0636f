// Package tracing wires OpenTelemetry for the pipeline. Spans are always
// started; with tracing disabled they come from the global no-op provider.
package tracing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.23.1"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/not-nullexception/ziply"

// Attribute keys shared by the pipeline spans
const (
	KeyRunID          = attribute.Key("ziply.run.id")
	KeyPolicy         = attribute.Key("ziply.run.policy")
	KeyAssetCount     = attribute.Key("ziply.run.assets")
	KeyAssetID        = attribute.Key("ziply.asset.id")
	KeyOriginalSize   = attribute.Key("ziply.asset.original_size")
	KeyCompressedSize = attribute.Key("ziply.asset.compressed_size")
	KeyAlbum          = attribute.Key("ziply.album.title")
	KeyMatches        = attribute.Key("ziply.search.matches")
)

var tracer trace.Tracer

func Init(ctx context.Context, cfg *config.TracingConfig) (func(), error) {
	log := logger.GetLogger("tracing")

	if !cfg.Enabled {
		log.Info().Msg("Tracing is disabled")
		return func() {}, nil
	}
	if cfg.OTLPEndpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithOS(),
		resource.WithProcessRuntimeDescription(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))

	log.Info().
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("otlp_endpoint", cfg.OTLPEndpoint).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("Tracing initialized")

	return func() {
		// flush what the batcher still holds
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}, nil
}

func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return tracer
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRunSpan starts the span covering a whole compression run
func StartRunSpan(ctx context.Context, runID uuid.UUID, policy string, assets int) (context.Context, trace.Span) {
	return StartSpan(ctx, "compression.Run",
		KeyRunID.String(runID.String()),
		KeyPolicy.String(policy),
		KeyAssetCount.Int(assets),
	)
}

// StartAssetSpan starts a span for one step on one asset
func StartAssetSpan(ctx context.Context, name string, assetID uuid.UUID) (context.Context, trace.Span) {
	return StartSpan(ctx, name, KeyAssetID.String(assetID.String()))
}

// SetSizes records original and compressed byte counts on the current span
func SetSizes(ctx context.Context, original, compressed int64) {
	trace.SpanFromContext(ctx).SetAttributes(
		KeyOriginalSize.Int64(original),
		KeyCompressedSize.Int64(compressed),
	)
}

func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err on the current span and marks it failed
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
