// Package testing предоставляет утилиты для тестирования кода, работающего с read-моделями.
package testing

import (
	"context"
	"testing"

	"github.com/akriventsev/readmodel/framework/adapters/inmemory"
	"github.com/akriventsev/readmodel/framework/store"
)

// InMemoryTestEnvironment тестовая среда с in-memory хранилищем и внедрением сбоев
type InMemoryTestEnvironment struct {
	Store  *inmemory.Provider
	Faults *FaultyProvider
}

// NewInMemoryTestEnvironment создает тестовую среду. Хранилище закрывается по завершении теста.
func NewInMemoryTestEnvironment(t *testing.T) *InMemoryTestEnvironment {
	t.Helper()

	provider := inmemory.NewProvider(inmemory.DefaultConfig())
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	return &InMemoryTestEnvironment{
		Store:  provider,
		Faults: NewFaultyProvider(provider),
	}
}

// Provider возвращает провайдер с внедрением сбоев поверх in-memory хранилища
func (e *InMemoryTestEnvironment) Provider() store.ConnectionProvider {
	return e.Faults
}

// Collection возвращает коллекцию in-memory хранилища в обход внедрения сбоев
func (e *InMemoryTestEnvironment) Collection(t *testing.T, name string) store.Collection {
	t.Helper()
	db, err := e.Store.Database(context.Background())
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	return db.Collection(name)
}
