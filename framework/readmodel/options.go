package readmodel

import (
	"github.com/akriventsev/readmodel/framework/metrics"
	"github.com/akriventsev/readmodel/framework/naming"
	"github.com/akriventsev/readmodel/framework/retry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultAsyncWorkers ограничение асинхронных операций по умолчанию
const DefaultAsyncWorkers = 16

// Option настройка Repository
type Option func(*Repository)

// WithNamer задает стратегию именования коллекций
func WithNamer(namer naming.CollectionNamer) Option {
	return func(r *Repository) {
		r.namer = namer
	}
}

// WithRetryPolicy задает политику повторов
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(r *Repository) {
		r.policy = policy
	}
}

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithMetrics задает сборщик метрик
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// WithTracer задает tracer для span'ов операций
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Repository) {
		r.tracer = tracer
	}
}

// WithExecutor задает исполнитель асинхронных операций
func WithExecutor(executor *Executor) Option {
	return func(r *Repository) {
		r.executor = executor
	}
}
