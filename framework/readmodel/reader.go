package readmodel

import (
	"context"
	"errors"
	"reflect"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// ReadModel контракт хранимой read-модели: неизменяемый уникальный идентификатор.
// Документ хранится под ключом _id; равенство для репозитория определяется идентификатором.
type ReadModel interface {
	Identity() uuid.UUID
}

// ReadModelRepository операции чтения read-моделей типа T
type ReadModelRepository[T ReadModel] interface {
	CollectionName() string
	GetByID(ctx context.Context, id uuid.UUID) (core.Option[T], error)
	GetByIDAsync(ctx context.Context, id uuid.UUID) *Future[core.Option[T]]
	Get(ctx context.Context) (*Cursor[T], error)
	GetAsync(ctx context.Context) *Future[*Cursor[T]]
	Query() *QueryBuilder[T]
}

// Reader типизированный репозиторий чтения. Имя коллекции разрешается один раз при создании.
type Reader[T ReadModel] struct {
	repo       *Repository
	collection string
}

var _ ReadModelRepository[ReadModel] = (*Reader[ReadModel])(nil)

// NewReader создает репозиторий чтения для типа T
func NewReader[T ReadModel](repo *Repository) (*Reader[T], error) {
	if repo == nil {
		return nil, invalidArgument("repository cannot be nil")
	}
	name, err := repo.CollectionFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return &Reader[T]{repo: repo, collection: name}, nil
}

// CollectionName возвращает имя коллекции типа T
func (r *Reader[T]) CollectionName() string {
	return r.collection
}

// GetByID возвращает документ по идентификатору; отсутствие документа - None, а не ошибка
func (r *Reader[T]) GetByID(ctx context.Context, id uuid.UUID) (core.Option[T], error) {
	raw, err := execute(ctx, r.repo, opGetByID, r.collection, func(ctx context.Context, db store.Database) (bson.Raw, error) {
		raw, err := db.Collection(r.collection).FindOne(ctx, id)
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		return core.None[T](), err
	}
	if raw == nil {
		return core.None[T](), nil
	}

	var v T
	if err := store.Unmarshal(raw, &v); err != nil {
		return core.None[T](), decodeError(err, r.collection)
	}
	return core.Some(v), nil
}

// GetByIDAsync асинхронная форма GetByID
func (r *Reader[T]) GetByIDAsync(ctx context.Context, id uuid.UUID) *Future[core.Option[T]] {
	return Go(ctx, r.repo.executor, func(ctx context.Context) (core.Option[T], error) {
		return r.GetByID(ctx, id)
	})
}

// Get открывает курсор по всей коллекции
func (r *Reader[T]) Get(ctx context.Context) (*Cursor[T], error) {
	return find[T](ctx, r.repo, opGet, r.collection, store.All())
}

// GetAsync асинхронная форма Get
func (r *Reader[T]) GetAsync(ctx context.Context) *Future[*Cursor[T]] {
	return Go(ctx, r.repo.executor, func(ctx context.Context) (*Cursor[T], error) {
		return r.Get(ctx)
	})
}

// Query создает построитель запроса к коллекции
func (r *Reader[T]) Query() *QueryBuilder[T] {
	return newQueryBuilder(r)
}
