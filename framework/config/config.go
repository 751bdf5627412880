// Package config загружает конфигурацию репозитория read-моделей из файла и переменных окружения.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/akriventsev/readmodel/framework/adapters/mongodb"
	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/logging"
	"github.com/akriventsev/readmodel/framework/metrics"
	"github.com/akriventsev/readmodel/framework/observability"
	"github.com/akriventsev/readmodel/framework/retry"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения (READMODEL_MONGO_URI и т.д.)
const EnvPrefix = "READMODEL"

// Config конфигурация репозитория
type Config struct {
	Mongo   MongoConfig       `mapstructure:"mongo"`
	Retry   RetryConfig       `mapstructure:"retry"`
	Async   AsyncConfig       `mapstructure:"async"`
	Log     logging.LogConfig `mapstructure:"log"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Tracing TracingConfig     `mapstructure:"tracing"`
}

// MongoConfig параметры подключения к MongoDB
type MongoConfig struct {
	URI                    string        `mapstructure:"uri"`
	Database               string        `mapstructure:"database"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`
	SocketTimeout          time.Duration `mapstructure:"socket_timeout"`
	MaxPoolSize            uint64        `mapstructure:"max_pool_size"`
	MinPoolSize            uint64        `mapstructure:"min_pool_size"`
	AppName                string        `mapstructure:"app_name"`
}

// RetryConfig параметры политики повторов
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// AsyncConfig параметры асинхронного исполнения
type AsyncConfig struct {
	// Workers ограничение одновременно выполняемых асинхронных операций, 0 = без ограничения
	Workers int `mapstructure:"workers"`
}

// MetricsConfig параметры метрик
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

// TracingConfig параметры трассировки
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Exporter     string  `mapstructure:"exporter"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Environment  string  `mapstructure:"environment"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	mongo := mongodb.DefaultConfig()
	return Config{
		Mongo: MongoConfig{
			URI:                    mongo.URI,
			Database:               "readmodel",
			ConnectTimeout:         mongo.ConnectTimeout,
			ServerSelectionTimeout: mongo.ServerSelectionTimeout,
			MaxPoolSize:            mongo.MaxPoolSize,
			AppName:                mongo.AppName,
		},
		Retry: RetryConfig{MaxAttempts: retry.DefaultMaxAttempts},
		Async: AsyncConfig{Workers: 16},
		Log:   logging.DefaultLogConfig(),
		Metrics: MetricsConfig{
			Enabled:  false,
			Exporter: metrics.ExporterPrometheus,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "readmodel",
			Exporter:     observability.ExporterStdout,
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("mongo.uri", d.Mongo.URI)
	v.SetDefault("mongo.database", d.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", d.Mongo.ConnectTimeout)
	v.SetDefault("mongo.server_selection_timeout", d.Mongo.ServerSelectionTimeout)
	v.SetDefault("mongo.socket_timeout", d.Mongo.SocketTimeout)
	v.SetDefault("mongo.max_pool_size", d.Mongo.MaxPoolSize)
	v.SetDefault("mongo.min_pool_size", d.Mongo.MinPoolSize)
	v.SetDefault("mongo.app_name", d.Mongo.AppName)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("async.workers", d.Async.Workers)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.exporter", d.Metrics.Exporter)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
}

// Load загружает конфигурацию: значения по умолчанию, затем файл (если path не пуст),
// затем переменные окружения с префиксом READMODEL_.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, fmt.Sprintf("failed to read config file %s", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if err := c.ProviderConfig().Validate(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return core.NewError(core.ErrInvalidConfig, fmt.Sprintf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Async.Workers < 0 {
		return core.NewError(core.ErrInvalidConfig, "async.workers cannot be negative")
	}
	if err := c.Log.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid log config")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return core.NewError(core.ErrInvalidConfig, "tracing.sampling_rate must be within [0, 1]")
	}
	return nil
}

// Settings возвращает неизменяемые параметры подключения
func (c Config) Settings() Settings {
	return NewSettings(c.Mongo.URI, c.Mongo.Database)
}

// ProviderConfig возвращает конфигурацию MongoDB-провайдера
func (c Config) ProviderConfig() mongodb.Config {
	return mongodb.Config{
		URI:                    c.Mongo.URI,
		Database:               c.Mongo.Database,
		ConnectTimeout:         c.Mongo.ConnectTimeout,
		ServerSelectionTimeout: c.Mongo.ServerSelectionTimeout,
		SocketTimeout:          c.Mongo.SocketTimeout,
		MaxPoolSize:            c.Mongo.MaxPoolSize,
		MinPoolSize:            c.Mongo.MinPoolSize,
		AppName:                c.Mongo.AppName,
	}
}

// RetryPolicy строит политику повторов
func (c Config) RetryPolicy(opts ...retry.Option) (*retry.Policy, error) {
	return retry.NewPolicy(append([]retry.Option{retry.WithMaxAttempts(c.Retry.MaxAttempts)}, opts...)...)
}

// MetricsSetup возвращает конфигурацию экспорта метрик; nil, если метрики выключены
func (c Config) MetricsSetup() *metrics.MetricsConfig {
	if !c.Metrics.Enabled {
		return nil
	}
	return &metrics.MetricsConfig{
		ExporterType:  c.Metrics.Exporter,
		ResourceAttrs: map[string]string{"service.name": c.Tracing.ServiceName},
		SetGlobal:     true,
	}
}

// TracingSetup возвращает конфигурацию трассировки
func (c Config) TracingSetup(version string) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:          c.Tracing.Enabled,
		ServiceName:      c.Tracing.ServiceName,
		ServiceVersion:   version,
		Exporter:         c.Tracing.Exporter,
		ExporterEndpoint: c.Tracing.Endpoint,
		SamplingRate:     c.Tracing.SamplingRate,
		Environment:      c.Tracing.Environment,
	}
}
