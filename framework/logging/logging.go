// Package logging настраивает zap-логгер для репозитория read-моделей.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Форматы вывода
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// LogConfig конфигурация логгера
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output приемник записей; по умолчанию os.Stderr
	Output io.Writer `mapstructure:"-"`
}

// DefaultLogConfig возвращает конфигурацию по умолчанию
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: FormatJSON}
}

// Validate проверяет уровень и формат
func (c LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case FormatJSON, FormatConsole, "":
		return nil
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
}

// New создает логгер по конфигурации
func New(cfg LogConfig) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(cfg.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, FormatConsole) {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var output io.Writer = os.Stderr
	if cfg.Output != nil {
		output = cfg.Output
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Nop возвращает логгер, который ничего не пишет
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Стандартные поля записей репозитория
const (
	FieldOperation  = "operation"
	FieldCollection = "collection"
	FieldAttempt    = "attempt"
)

// Operation поле с именем операции
func Operation(name string) zap.Field {
	return zap.String(FieldOperation, name)
}

// Collection поле с именем коллекции
func Collection(name string) zap.Field {
	return zap.String(FieldCollection, name)
}

// Attempt поле с номером попытки
func Attempt(n int) zap.Field {
	return zap.Int(FieldAttempt, n)
}
