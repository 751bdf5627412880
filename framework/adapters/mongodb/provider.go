// Package mongodb предоставляет адаптер документного хранилища для MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Config конфигурация подключения к MongoDB
type Config struct {
	URI string
	// Database имя базы данных. Если пусто, берется из пути URI
	Database               string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	// SocketTimeout переопределяет socketTimeoutMS из URI (0 = как в URI)
	SocketTimeout time.Duration
	MaxPoolSize   uint64
	MinPoolSize   uint64
	AppName       string
}

// DefaultConfig возвращает конфигурацию MongoDB по умолчанию
func DefaultConfig() Config {
	return Config{
		URI:                    "mongodb://localhost:27017",
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 10 * time.Second,
		MaxPoolSize:            100,
		AppName:                "readmodel",
	}
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if c.URI == "" {
		return core.NewError(core.ErrInvalidConfig, "mongodb URI cannot be empty")
	}
	if _, err := c.DatabaseName(); err != nil {
		return err
	}
	if c.MaxPoolSize > 0 && c.MinPoolSize > c.MaxPoolSize {
		return core.NewError(core.ErrInvalidConfig, "MinPoolSize cannot exceed MaxPoolSize")
	}
	if c.SocketTimeout < 0 || c.ConnectTimeout < 0 || c.ServerSelectionTimeout < 0 {
		return core.NewError(core.ErrInvalidConfig, "timeouts cannot be negative")
	}
	return nil
}

// DatabaseName возвращает имя целевой базы данных
func (c Config) DatabaseName() (string, error) {
	cs, err := connstring.ParseAndValidate(c.URI)
	if err != nil {
		return "", core.Wrap(err, core.ErrInvalidConfig, "invalid mongodb connection string")
	}
	if c.Database != "" {
		return c.Database, nil
	}
	if cs.Database == "" {
		return "", core.NewError(core.ErrInvalidConfig, "database name is not set in config or connection string")
	}
	return cs.Database, nil
}

func (c Config) clientOptions() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(c.URI).
		SetRegistry(store.DefaultRegistry())

	if c.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.ConnectTimeout)
	}
	if c.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(c.ServerSelectionTimeout)
	}
	if c.SocketTimeout > 0 {
		opts.SetSocketTimeout(c.SocketTimeout)
	}
	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}
	if c.MinPoolSize > 0 {
		opts.SetMinPoolSize(c.MinPoolSize)
	}
	if c.AppName != "" {
		opts.SetAppName(c.AppName)
	}
	return opts
}

// Provider реализация store.ConnectionProvider для MongoDB.
// Клиент создается лениво при первом обращении и разделяется между вызовами.
// Некорректная конфигурация проявляется ошибкой INVALID_CONFIG при первой операции.
type Provider struct {
	config Config
	mu     sync.Mutex
	client *mongo.Client
	dbName string
}

// NewProvider создает провайдер. Подключение не выполняется.
func NewProvider(config Config) *Provider {
	return &Provider{config: config}
}

// Config возвращает конфигурацию провайдера
func (p *Provider) Config() Config {
	return p.config
}

func (p *Provider) connect(ctx context.Context) (*mongo.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if err := p.config.Validate(); err != nil {
		return nil, err
	}
	dbName, err := p.config.DatabaseName()
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, p.config.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	p.client = client
	p.dbName = dbName
	return client, nil
}

// Database возвращает хэндл целевой базы данных
func (p *Provider) Database(ctx context.Context) (store.Database, error) {
	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &Database{db: client.Database(p.dbName)}, nil
}

// Ping проверяет доступность primary
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return nil
}

// Close отключает клиента. Следующее обращение подключится заново.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (p *Provider) Start(ctx context.Context) error {
	if _, err := p.connect(ctx); err != nil {
		return core.Wrap(err, core.ErrInitializationFailed, "failed to start MongoDB adapter")
	}
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (p *Provider) Stop(ctx context.Context) error {
	return p.Close(ctx)
}

// IsRunning проверяет, подключен ли клиент (реализация core.Lifecycle)
func (p *Provider) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil
}

// Name возвращает имя компонента (реализация core.Component)
func (p *Provider) Name() string {
	return "mongodb-store"
}

// Type возвращает тип компонента (реализация core.Component)
func (p *Provider) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck реализует core.HealthCheckable
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.Ping(ctx)
}
