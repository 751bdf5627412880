// Package metrics предоставляет метрики репозитория read-моделей на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"github.com/akriventsev/readmodel/framework/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName имя meter'а инструментов репозитория
const MeterName = "github.com/akriventsev/readmodel"

// Metrics сборщик метрик обращений к хранилищу
type Metrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	retriesTotal      metric.Int64Counter
	errorsTotal       metric.Int64Counter
	activeOperations  metric.Int64UpDownCounter
}

// NewMetrics создает сборщик метрик на глобальном MeterProvider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(MeterName))
}

// NewMetricsWithMeter создает сборщик метрик на переданном meter
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	operationsTotal, err := meter.Int64Counter(
		"readmodel_operations_total",
		metric.WithDescription("Total number of read model store operations"),
	)
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram(
		"readmodel_operation_duration_seconds",
		metric.WithDescription("Store operation duration in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	retriesTotal, err := meter.Int64Counter(
		"readmodel_retries_total",
		metric.WithDescription("Total number of retried attempts after transient failures"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"readmodel_errors_total",
		metric.WithDescription("Total number of failed store operations"),
	)
	if err != nil {
		return nil, err
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"readmodel_active_operations",
		metric.WithDescription("Number of store operations in flight"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		retriesTotal:      retriesTotal,
		errorsTotal:       errorsTotal,
		activeOperations:  activeOperations,
	}, nil
}

// Noop возвращает сборщик, который ничего не записывает
func Noop() *Metrics {
	m, _ := NewMetricsWithMeter(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// RecordOperation записывает завершение операции
func (m *Metrics) RecordOperation(ctx context.Context, operation, collection string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("collection", collection),
		attribute.Bool("success", err == nil),
	}

	m.operationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil {
		code := core.CodeOf(err)
		if code == "" {
			code = "UNKNOWN"
		}
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("collection", collection),
			attribute.String("code", code),
		))
	}
}

// RecordRetry записывает повтор после транзиентного сбоя
func (m *Metrics) RecordRetry(ctx context.Context, operation, collection string, attempt int) {
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("collection", collection),
		attribute.Int("attempt", attempt),
	))
}

// IncrementActiveOperations увеличивает счетчик активных операций
func (m *Metrics) IncrementActiveOperations(ctx context.Context, operation string) {
	m.activeOperations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// DecrementActiveOperations уменьшает счетчик активных операций
func (m *Metrics) DecrementActiveOperations(ctx context.Context, operation string) {
	m.activeOperations.Add(ctx, -1, metric.WithAttributes(attribute.String("operation", operation)))
}
