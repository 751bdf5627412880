package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/akriventsev/readmodel/framework/core"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	m, err := NewMetricsWithMeter(provider.Meter(MeterName))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	result := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			result[m.Name] = m
		}
	}
	return result
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordOperation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOperation(ctx, "save", "orders", 10*time.Millisecond, nil)
	m.RecordOperation(ctx, "save", "orders", 20*time.Millisecond, core.NewError("STORE_FAILURE", "boom"))
	m.RecordOperation(ctx, "get", "orders", time.Millisecond, errors.New("plain"))

	data := collect(t, reader)
	assert.EqualValues(t, 3, sumOf(t, data["readmodel_operations_total"]))
	assert.EqualValues(t, 2, sumOf(t, data["readmodel_errors_total"]))

	hist, ok := data["readmodel_operation_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.EqualValues(t, 3, count)
}

func TestMetrics_RetriesAndActive(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRetry(ctx, "get", "orders", 1)
	m.RecordRetry(ctx, "get", "orders", 2)
	m.IncrementActiveOperations(ctx, "get")
	m.IncrementActiveOperations(ctx, "get")
	m.DecrementActiveOperations(ctx, "get")

	data := collect(t, reader)
	assert.EqualValues(t, 2, sumOf(t, data["readmodel_retries_total"]))
	assert.EqualValues(t, 1, sumOf(t, data["readmodel_active_operations"]))
}

func TestNoop(t *testing.T) {
	m := Noop()
	require.NotNil(t, m)
	assert.NotPanics(t, func() {
		m.RecordOperation(context.Background(), "get", "orders", time.Second, errors.New("x"))
		m.RecordRetry(context.Background(), "get", "orders", 1)
	})
}

func TestSetupMetrics_Prometheus(t *testing.T) {
	registry := promclient.NewRegistry()
	provider, err := SetupMetrics(&MetricsConfig{
		ExporterType:  ExporterPrometheus,
		Registerer:    registry,
		ResourceAttrs: map[string]string{"service.name": "readmodel-test"},
	})
	require.NoError(t, err)
	defer ShutdownMetrics(context.Background(), provider)

	m, err := NewMetricsWithMeter(provider.Meter(MeterName))
	require.NoError(t, err)
	m.RecordOperation(context.Background(), "count", "orders", time.Millisecond, nil)

	families, err := registry.Gather()
	require.NoError(t, err)

	found := false
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "readmodel_operations") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSetupMetrics_UnknownExporter(t *testing.T) {
	_, err := SetupMetrics(&MetricsConfig{ExporterType: "statsd"})
	assert.Error(t, err)
}

func TestSetupMetrics_None(t *testing.T) {
	provider, err := SetupMetrics(&MetricsConfig{ExporterType: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, ShutdownMetrics(context.Background(), provider))
	assert.NoError(t, ShutdownMetrics(context.Background(), nil))
}
