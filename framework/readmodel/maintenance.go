package readmodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// EnsureIndex создает индекс на коллекции типа T; повторное создание того же индекса не ошибка
func (w *Writer[T]) EnsureIndex(ctx context.Context, spec store.IndexSpec) error {
	if len(spec.Fields) == 0 {
		return invalidArgument("index must have at least one field")
	}
	for _, field := range spec.Fields {
		if field == "" {
			return invalidArgument("index field cannot be empty")
		}
	}
	_, err := execute(ctx, w.repo, opEnsureIndex, w.collection, func(ctx context.Context, db store.Database) (struct{}, error) {
		indexer, err := indexerOf(db.Collection(w.collection))
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, indexer.CreateIndex(ctx, spec)
	})
	return err
}

// DropIndex удаляет индекс по имени
func (w *Writer[T]) DropIndex(ctx context.Context, name string) error {
	if name == "" {
		return invalidArgument("index name cannot be empty")
	}
	_, err := execute(ctx, w.repo, opDropIndex, w.collection, func(ctx context.Context, db store.Database) (struct{}, error) {
		indexer, err := indexerOf(db.Collection(w.collection))
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, indexer.DropIndex(ctx, name)
	})
	return err
}

// ListIndexes возвращает индексы коллекции типа T
func (w *Writer[T]) ListIndexes(ctx context.Context) ([]store.IndexInfo, error) {
	return execute(ctx, w.repo, opListIndexes, w.collection, func(ctx context.Context, db store.Database) ([]store.IndexInfo, error) {
		indexer, err := indexerOf(db.Collection(w.collection))
		if err != nil {
			return nil, err
		}
		return indexer.ListIndexes(ctx)
	})
}

func indexerOf(coll store.Collection) (store.Indexer, error) {
	indexer, ok := coll.(store.Indexer)
	if !ok {
		return nil, core.NewError(core.ErrUnsupported, fmt.Sprintf("collection %q does not support indexes", coll.Name()))
	}
	return indexer, nil
}

// Change изменение read-модели в коллекции
type Change[T ReadModel] struct {
	Operation store.ChangeOperationType
	ID        uuid.UUID
	// Document текущая версия документа, если хранилище ее прислало
	Document      core.Option[T]
	UpdatedFields bson.M
	RemovedFields []string
	// Err ошибка декодирования события или сбой потока; после сбоя потока канал закрывается
	Err error
}

// Watch подписывается на изменения коллекции типа T.
// Повторяется только открытие потока; канал закрывается при отмене ctx или завершении потока.
func (r *Reader[T]) Watch(ctx context.Context) (<-chan Change[T], error) {
	events, err := execute(ctx, r.repo, opWatch, r.collection, func(ctx context.Context, db store.Database) (<-chan store.ChangeEvent, error) {
		coll := db.Collection(r.collection)
		watcher, ok := coll.(store.Watcher)
		if !ok {
			return nil, core.NewError(core.ErrUnsupported, fmt.Sprintf("collection %q does not support change streams", coll.Name()))
		}
		return watcher.Watch(ctx)
	})
	if err != nil {
		return nil, err
	}

	out := make(chan Change[T])
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- r.toChange(event):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Reader[T]) toChange(event store.ChangeEvent) Change[T] {
	change := Change[T]{
		Operation:     event.OperationType,
		ID:            event.DocumentID,
		Document:      core.None[T](),
		UpdatedFields: event.UpdatedFields,
		RemovedFields: event.RemovedFields,
	}
	switch {
	case errors.Is(event.Err, store.ErrMalformedChange):
		change.Err = decodeError(event.Err, r.collection)
		return change
	case event.Err != nil:
		change.Err = streamError(event.Err, opWatch, r.collection)
		return change
	}
	if len(event.FullDocument) > 0 {
		var v T
		if err := store.Unmarshal(event.FullDocument, &v); err != nil {
			change.Err = decodeError(err, r.collection)
		} else {
			change.Document = core.Some(v)
		}
	}
	return change
}
