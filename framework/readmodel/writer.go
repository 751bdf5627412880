package readmodel

import (
	"context"
	"fmt"
	"reflect"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// WritableReadModelRepository операции чтения и изменения read-моделей типа T
type WritableReadModelRepository[T ReadModel] interface {
	ReadModelRepository[T]
	Save(ctx context.Context, item T) error
	SaveAsync(ctx context.Context, item T) *Future[struct{}]
	Insert(ctx context.Context, items []T) error
	InsertAsync(ctx context.Context, items []T) *Future[struct{}]
	Delete(ctx context.Context, item T) error
	DeleteAsync(ctx context.Context, item T) *Future[struct{}]
	BulkSetProperty(ctx context.Context, ids []uuid.UUID, propertyName string, value interface{}) (int64, error)
	BulkSetPropertyAsync(ctx context.Context, ids []uuid.UUID, propertyName string, value interface{}) *Future[int64]
	RenameField(ctx context.Context, oldField, newField string) (int64, error)
	RenameFieldAsync(ctx context.Context, oldField, newField string) *Future[int64]
	Truncate(ctx context.Context) error
	TruncateAsync(ctx context.Context) *Future[struct{}]
}

// Writer типизированный репозиторий чтения и записи
type Writer[T ReadModel] struct {
	*Reader[T]
}

var _ WritableReadModelRepository[ReadModel] = (*Writer[ReadModel])(nil)

// NewWriter создает репозиторий записи для типа T
func NewWriter[T ReadModel](repo *Repository) (*Writer[T], error) {
	reader, err := NewReader[T](repo)
	if err != nil {
		return nil, err
	}
	return &Writer[T]{Reader: reader}, nil
}

// Save создает документ или полностью заменяет существующий с тем же идентификатором
func (w *Writer[T]) Save(ctx context.Context, item T) error {
	id, doc, err := w.encode(item)
	if err != nil {
		return err
	}
	_, err = execute(ctx, w.repo, opSave, w.collection, func(ctx context.Context, db store.Database) (struct{}, error) {
		return struct{}{}, db.Collection(w.collection).Upsert(ctx, id, doc)
	})
	return err
}

// SaveAsync асинхронная форма Save
func (w *Writer[T]) SaveAsync(ctx context.Context, item T) *Future[struct{}] {
	return Go(ctx, w.repo.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Save(ctx, item)
	})
}

// Insert вставляет новые документы одним пакетом. Поведение при повторяющемся идентификаторе определяет хранилище.
func (w *Writer[T]) Insert(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(items))
	for _, item := range items {
		_, doc, err := w.encode(item)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	_, err := execute(ctx, w.repo, opInsert, w.collection, func(ctx context.Context, db store.Database) (struct{}, error) {
		return struct{}{}, db.Collection(w.collection).InsertMany(ctx, docs)
	})
	return err
}

// InsertAsync асинхронная форма Insert
func (w *Writer[T]) InsertAsync(ctx context.Context, items []T) *Future[struct{}] {
	return Go(ctx, w.repo.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Insert(ctx, items)
	})
}

// Delete удаляет документ с идентификатором item. Отсутствующий документ не ошибка.
func (w *Writer[T]) Delete(ctx context.Context, item T) error {
	if isNil(item) {
		return invalidArgument("item cannot be nil")
	}
	id := item.Identity()
	_, err := execute(ctx, w.repo, opDelete, w.collection, func(ctx context.Context, db store.Database) (struct{}, error) {
		_, err := db.Collection(w.collection).DeleteOne(ctx, id)
		return struct{}{}, err
	})
	return err
}

// DeleteAsync асинхронная форма Delete
func (w *Writer[T]) DeleteAsync(ctx context.Context, item T) *Future[struct{}] {
	return Go(ctx, w.repo.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Delete(ctx, item)
	})
}

// BulkSetProperty одной неупорядоченной bulk-операцией устанавливает propertyName = value
// у документов с идентификаторами из ids и возвращает число найденных документов.
// Операция не атомарна: при сбое часть документов может быть уже изменена.
func (w *Writer[T]) BulkSetProperty(ctx context.Context, ids []uuid.UUID, propertyName string, value interface{}) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := validateField(propertyName); err != nil {
		return 0, err
	}
	if _, err := store.EncodeValue(value); err != nil {
		return 0, core.Wrap(err, core.ErrInvalidArgument, fmt.Sprintf("value for %q cannot be encoded", propertyName))
	}
	return execute(ctx, w.repo, opBulkSetProperty, w.collection, func(ctx context.Context, db store.Database) (int64, error) {
		return db.Collection(w.collection).SetField(ctx, ids, propertyName, value)
	})
}

// BulkSetPropertyAsync асинхронная форма BulkSetProperty
func (w *Writer[T]) BulkSetPropertyAsync(ctx context.Context, ids []uuid.UUID, propertyName string, value interface{}) *Future[int64] {
	return Go(ctx, w.repo.executor, func(ctx context.Context) (int64, error) {
		return w.BulkSetProperty(ctx, ids, propertyName, value)
	})
}

// RenameField переименовывает поле у всех документов коллекции, где оно есть, и возвращает их число
func (w *Writer[T]) RenameField(ctx context.Context, oldField, newField string) (int64, error) {
	return w.repo.RenameFieldIn(ctx, w.collection, oldField, newField)
}

// RenameFieldAsync асинхронная форма RenameField
func (w *Writer[T]) RenameFieldAsync(ctx context.Context, oldField, newField string) *Future[int64] {
	return Go(ctx, w.repo.executor, func(ctx context.Context) (int64, error) {
		return w.RenameField(ctx, oldField, newField)
	})
}

// Truncate удаляет коллекцию типа T целиком
func (w *Writer[T]) Truncate(ctx context.Context) error {
	return w.repo.TruncateCollection(ctx, w.collection)
}

// TruncateAsync асинхронная форма Truncate
func (w *Writer[T]) TruncateAsync(ctx context.Context) *Future[struct{}] {
	return Go(ctx, w.repo.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Truncate(ctx)
	})
}

// encode кодирует read-модель до обращения к хранилищу, чтобы ошибка кодирования не попадала под повторы
func (w *Writer[T]) encode(item T) (uuid.UUID, bson.Raw, error) {
	if isNil(item) {
		return uuid.Nil, nil, invalidArgument("item cannot be nil")
	}
	id := item.Identity()
	if id == uuid.Nil {
		return uuid.Nil, nil, invalidArgument("read model identity cannot be nil UUID")
	}
	doc, err := store.EncodeDocument(id, item)
	if err != nil {
		return uuid.Nil, nil, core.Wrap(err, core.ErrInvalidArgument, fmt.Sprintf("cannot encode read model %s", id))
	}
	return id, doc, nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
