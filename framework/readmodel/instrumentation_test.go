package readmodel

import (
	"context"
	"testing"

	"github.com/akriventsev/readmodel/framework/logging"
	"github.com/akriventsev/readmodel/framework/metrics"
	"github.com/akriventsev/readmodel/framework/observability"
	fwtesting "github.com/akriventsev/readmodel/framework/testing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestRepository_LogsAndCountsRetries(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	m, err := metrics.NewMetricsWithMeter(provider.Meter(metrics.MeterName))
	require.NoError(t, err)

	orders, env := newOrders(t, WithLogger(zap.New(obsCore)), WithMetrics(m))
	env.Faults.FailNext(fwtesting.OpFindOne, 1, fwtesting.TransientFault())

	_, err = orders.GetByID(context.Background(), uuid.New())
	require.NoError(t, err)

	retries := logs.FilterMessage("retrying store call after transient failure").All()
	require.Len(t, retries, 1)
	assert.Equal(t, zapcore.WarnLevel, retries[0].Level)
	fields := retries[0].ContextMap()
	assert.Equal(t, opGetByID, fields[logging.FieldOperation])
	assert.Equal(t, "orders", fields[logging.FieldCollection])
	assert.EqualValues(t, 1, fields[logging.FieldAttempt])

	assert.Len(t, logs.FilterMessage("read model operation completed").All(), 1)

	assert.EqualValues(t, 1, counterTotal(t, reader, "readmodel_retries_total"))
	assert.EqualValues(t, 1, counterTotal(t, reader, "readmodel_operations_total"))
	assert.EqualValues(t, 0, counterTotal(t, reader, "readmodel_errors_total"))
}

func TestRepository_LogsFailures(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	orders, env := newOrders(t, WithLogger(zap.New(obsCore)))
	env.Faults.FailAlways(fwtesting.OpCount, fwtesting.TransientFault())

	_, err := orders.Query().Count(context.Background())
	require.Error(t, err)

	failures := logs.FilterMessage("read model operation failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Len(t, logs.FilterMessage("retrying store call after transient failure").All(), 2)
}

func TestRepository_TracesOperations(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orders, env := newOrders(t, WithTracer(tp.Tracer(observability.TracerName)))
	ctx := observability.InjectCorrelationID(context.Background(), "req-7")

	require.NoError(t, orders.Save(ctx, newOrder("alice", 1)))
	env.Faults.FailAlways(fwtesting.OpFindOne, fwtesting.TransientFault())
	_, err := orders.GetByID(ctx, uuid.New())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "readmodel.save", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("db.collection", "orders"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("correlation_id", "req-7"))

	assert.Equal(t, "readmodel.get_by_id", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.Bool("readmodel.success", false))
}
