// Package metrics предоставляет функции для настройки системы метрик.
package metrics

import (
	"context"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Типы экспортеров метрик
const (
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

// MetricsConfig конфигурация метрик
type MetricsConfig struct {
	ExporterType  string
	ResourceAttrs map[string]string
	// Registerer реестр Prometheus; по умолчанию promclient.DefaultRegisterer
	Registerer promclient.Registerer
	// SetGlobal регистрирует провайдер как глобальный MeterProvider
	SetGlobal bool
}

// SetupMetrics настраивает экспорт метрик
func SetupMetrics(config *MetricsConfig) (*metric.MeterProvider, error) {
	if config == nil {
		config = &MetricsConfig{
			ExporterType: ExporterPrometheus,
			SetGlobal:    true,
		}
	}

	var opts []metric.Option

	switch config.ExporterType {
	case ExporterPrometheus, "":
		reader, err := setupPrometheusExporter(config.Registerer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(reader))
	case ExporterNone:
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(buildResourceAttributes(config.ResourceAttrs)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	opts = append(opts, metric.WithResource(res))

	provider := metric.NewMeterProvider(opts...)

	if config.SetGlobal {
		otel.SetMeterProvider(provider)
	}

	return provider, nil
}

// setupPrometheusExporter настраивает Prometheus exporter
func setupPrometheusExporter(registerer promclient.Registerer) (metric.Reader, error) {
	var opts []prometheus.Option
	if registerer != nil {
		opts = append(opts, prometheus.WithRegisterer(registerer))
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return exporter, nil
}

// buildResourceAttributes строит resource attributes
func buildResourceAttributes(attrs map[string]string) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, attribute.String(k, v))
	}
	return result
}

// ShutdownMetrics корректно завершает работу метрик
func ShutdownMetrics(ctx context.Context, provider *metric.MeterProvider) error {
	if provider == nil {
		return nil
	}

	return provider.Shutdown(ctx)
}
