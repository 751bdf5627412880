package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	framework "github.com/akriventsev/readmodel"
	"github.com/akriventsev/readmodel/framework/adapters/mongodb"
	"github.com/akriventsev/readmodel/framework/config"
	"github.com/akriventsev/readmodel/framework/logging"
	"github.com/akriventsev/readmodel/framework/metrics"
	"github.com/akriventsev/readmodel/framework/observability"
	"github.com/akriventsev/readmodel/framework/readmodel"
	"github.com/akriventsev/readmodel/framework/store"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// ProviderFactory создает провайдер хранилища по конфигурации подключения
type ProviderFactory func(cfg mongodb.Config) store.ConnectionProvider

// app состояние одного запуска команды
type app struct {
	newProvider ProviderFactory

	configPath string
	uri        string
	database   string

	cfg      *config.Config
	logger   *zap.Logger
	meters   *sdkmetric.MeterProvider
	tracing  *observability.TracingManager
	provider store.ConnectionProvider
	repo     *readmodel.Repository
}

func newApp() *app {
	return &app{
		newProvider: func(cfg mongodb.Config) store.ConnectionProvider {
			return mongodb.NewProvider(cfg)
		},
	}
}

// setup загружает конфигурацию и поднимает логгер, метрики, трассировку и репозиторий
func (a *app) setup(ctx context.Context, logOutput io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.uri != "" {
		cfg.Mongo.URI = a.uri
	}
	if a.database != "" {
		cfg.Mongo.Database = a.database
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.Log
	logCfg.Output = logOutput
	if a.logger, err = logging.New(logCfg); err != nil {
		return err
	}

	m := metrics.Noop()
	if setup := cfg.MetricsSetup(); setup != nil {
		if a.meters, err = metrics.SetupMetrics(setup); err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		if m, err = metrics.NewMetricsWithMeter(a.meters.Meter(metrics.MeterName)); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	if a.tracing, err = observability.NewTracingManager(cfg.TracingSetup(framework.Version)); err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	if err := a.tracing.Start(ctx); err != nil {
		return err
	}

	policy, err := cfg.RetryPolicy()
	if err != nil {
		return err
	}

	a.provider = a.newProvider(cfg.ProviderConfig())
	a.repo, err = readmodel.New(a.provider,
		readmodel.WithRetryPolicy(policy),
		readmodel.WithLogger(a.logger),
		readmodel.WithMetrics(m),
		readmodel.WithTracer(a.tracing.Tracer()),
		readmodel.WithExecutor(readmodel.NewExecutor(cfg.Async.Workers)),
	)
	return err
}

// close освобождает ресурсы в обратном порядке
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.provider != nil {
		errs = append(errs, a.provider.Close(ctx))
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Stop(ctx))
	}
	errs = append(errs, metrics.ShutdownMetrics(ctx, a.meters))
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
