package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя трассировщика движка.
const TracerName = "github.com/shaiso/dagflow"

// TracingConfig — настройки трассировки.
type TracingConfig struct {
	// Enabled — включить экспорт спанов.
	Enabled bool `yaml:"enabled"`

	// Endpoint — адрес OTLP/gRPC коллектора (host:port).
	Endpoint string `yaml:"endpoint"`

	// Insecure — соединение без TLS.
	Insecure bool `yaml:"insecure"`

	// ServiceName — service.name в ресурсе.
	ServiceName string `yaml:"service_name"`

	// SampleRate — доля записываемых трасс (0..1). 0 — все.
	SampleRate float64 `yaml:"sample_rate"`
}

// SetupTracing устанавливает глобальный TracerProvider.
//
// При Enabled=false возвращается provider без экспортёров: спаны создаются,
// но никуда не отправляются.
func SetupTracing(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "dagflow"
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}

// Tracer возвращает трассировщик движка из глобального provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan открывает спан с атрибутами.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan закрывает спан, отмечая ошибку, если она есть.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
