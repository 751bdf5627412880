// Package framework предоставляет репозиторий read-моделей поверх документного
// хранилища с автоматическими повторами при транзиентных сбоях.
//
// Основные возможности:
//   - Типизированные Reader/Writer для read-моделей с UUID-идентичностью
//   - Повтор вызовов хранилища при сетевых сбоях
//   - Синхронные и асинхронные (Future) формы всех операций
//   - Метрики и трассировка на основе OpenTelemetry
//
// Пример использования:
//
//	repo, err := readmodel.New(mongodb.NewProvider(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	orders, err := readmodel.NewWriter[OrderView](repo)
package framework

// Version представляет версию фреймворка
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о фреймворке
type Metadata struct {
	Name        string
	Version     string
	Description string
	Author      string
	License     string
}

// GetMetadata возвращает метаданные фреймворка
func GetMetadata() Metadata {
	return Metadata{
		Name:        "Potter ReadModel",
		Version:     Version,
		Description: "Read model repository over a document store with transient-fault retries",
		Author:      "Potter Team",
		License:     "MIT",
	}
}

// FrameworkVersion возвращает версию фреймворка
func FrameworkVersion() string {
	return Version
}
