// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability предоставляет трассировку и проверки здоровья для репозитория read-моделей.
package observability

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName имя tracer'а операций репозитория
const TracerName = "github.com/akriventsev/readmodel"

const correlationIDKey = "correlation_id"

// Экспортеры трасс
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterZipkin = "zipkin"
)

// TracingConfig конфигурация трассировки
type TracingConfig struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Exporter         string // "zipkin", "otlp", "stdout"
	ExporterEndpoint string
	SamplingRate     float64 // 0.0 - 1.0
	Environment      string  // "development", "staging", "production"
	// Writer вывод stdout-экспортера; по умолчанию os.Stdout
	Writer io.Writer
}

// TracingManager менеджер трассировки
type TracingManager struct {
	config   TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	running  bool
	mu       sync.RWMutex
}

// NewTracingManager создает TracingManager. При выключенной трассировке используется глобальный провайдер.
func NewTracingManager(config TracingConfig) (*TracingManager, error) {
	if !config.Enabled {
		return &TracingManager{config: config, tracer: otel.Tracer(TracerName)}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(config.SamplingRate)
	if config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if config.SamplingRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		config:   config,
		tracer:   tp.Tracer(TracerName),
		provider: tp,
	}, nil
}

// createExporter создает exporter на основе конфигурации
func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case ExporterZipkin:
		if config.ExporterEndpoint == "" {
			return nil, fmt.Errorf("zipkin exporter requires an endpoint")
		}
		return zipkin.New(config.ExporterEndpoint)
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if config.ExporterEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(config.ExporterEndpoint))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterStdout, "":
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if config.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(config.Writer))
		}
		return stdouttrace.New(opts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter: %s", config.Exporter)
	}
}

// Start запускает tracing (lifecycle)
func (tm *TracingManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = true
	tm.mu.Unlock()
	return nil
}

// Stop останавливает tracing с graceful shutdown
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = false
	tm.mu.Unlock()

	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// IsRunning проверяет статус
func (tm *TracingManager) IsRunning() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running
}

// Tracer возвращает tracer для создания spans
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// TraceOperation выполняет операцию хранилища внутри span'а
func TraceOperation(ctx context.Context, tracer trace.Tracer, operation, collection string, fn func(context.Context) error) error {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	ctx, span := tracer.Start(ctx, "readmodel."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("readmodel.operation", operation),
			attribute.String("db.collection", collection),
		),
	)
	defer span.End()

	if id := ExtractCorrelationID(ctx); id != "" {
		span.SetAttributes(attribute.String(correlationIDKey, id))
	}

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("readmodel.success", false))
	} else {
		span.SetAttributes(attribute.Bool("readmodel.success", true))
	}

	return err
}

// ExtractCorrelationID извлекает correlation ID из baggage или trace ID активного span'а
func ExtractCorrelationID(ctx context.Context) string {
	b := baggage.FromContext(ctx)
	if b.Len() > 0 {
		if member := b.Member(correlationIDKey); member.Key() == correlationIDKey {
			return member.Value()
		}
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().TraceID().IsValid() {
		return span.SpanContext().TraceID().String()
	}

	return ""
}

// InjectCorrelationID добавляет correlation ID в context
func InjectCorrelationID(ctx context.Context, correlationID string) context.Context {
	member, err := baggage.NewMember(correlationIDKey, correlationID)
	if err != nil {
		return ctx
	}
	b, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, b)
}
