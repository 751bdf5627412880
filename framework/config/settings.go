package config

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akriventsev/readmodel/framework/adapters/mongodb"
	"github.com/akriventsev/readmodel/framework/core"
)

// socketTimeoutOption параметр строки подключения с таймаутом сокета
const socketTimeoutOption = "socketTimeoutMS"

// Settings неизменяемые параметры подключения к хранилищу.
// Копии, возвращаемые With*, не влияют на исходное значение.
type Settings struct {
	connectionString string
	databaseName     string
}

// NewSettings создает параметры подключения
func NewSettings(connectionString, databaseName string) Settings {
	return Settings{connectionString: connectionString, databaseName: databaseName}
}

// ConnectionString возвращает строку подключения
func (s Settings) ConnectionString() string {
	return s.connectionString
}

// DatabaseName возвращает имя базы данных
func (s Settings) DatabaseName() string {
	return s.databaseName
}

// WithConnectionString возвращает копию с другой строкой подключения.
// Используется только для диагностики таймаутов.
func (s Settings) WithConnectionString(connectionString string) Settings {
	s.connectionString = connectionString
	return s
}

// WithSocketTimeout возвращает копию, в строке подключения которой socketTimeoutMS заменен на timeout
func (s Settings) WithSocketTimeout(timeout time.Duration) (Settings, error) {
	if timeout <= 0 {
		return Settings{}, core.NewError(core.ErrInvalidArgument, "socket timeout must be positive")
	}

	base, query, _ := strings.Cut(s.connectionString, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return Settings{}, core.Wrap(err, core.ErrInvalidConfig, "invalid connection string options")
	}
	for key := range values {
		// имена опций строки подключения регистронезависимы
		if strings.EqualFold(key, socketTimeoutOption) {
			values.Del(key)
		}
	}
	values.Set(socketTimeoutOption, strconv.FormatInt(timeout.Milliseconds(), 10))

	if !strings.Contains(base, "/") || strings.HasSuffix(base, "//") {
		return Settings{}, core.NewError(core.ErrInvalidConfig, "connection string has no hosts")
	}
	// опции требуют разделителя "/" после списка хостов
	if strings.Count(base, "/") == 2 {
		base += "/"
	}
	return s.WithConnectionString(base + "?" + values.Encode()), nil
}

// Validate проверяет строку подключения и имя базы данных
func (s Settings) Validate() error {
	return s.ProviderConfig().Validate()
}

// ProviderConfig возвращает конфигурацию MongoDB-провайдера с параметрами по умолчанию
func (s Settings) ProviderConfig() mongodb.Config {
	cfg := mongodb.DefaultConfig()
	cfg.URI = s.connectionString
	cfg.Database = s.databaseName
	return cfg
}
