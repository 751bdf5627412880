package readmodel

import (
	"context"
	"fmt"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
)

// QueryBuilder построитель запроса к коллекции read-моделей. Условия объединяются по AND.
// Построитель не предназначен для конкурентного использования.
type QueryBuilder[T ReadModel] struct {
	reader *Reader[T]
	query  store.Query
	err    error
}

func newQueryBuilder[T ReadModel](reader *Reader[T]) *QueryBuilder[T] {
	return &QueryBuilder[T]{reader: reader}
}

// Where добавляет условие фильтрации
func (q *QueryBuilder[T]) Where(field string, op store.QueryOperator, value interface{}) *QueryBuilder[T] {
	q.query.Conditions = append(q.query.Conditions, store.Condition{
		Field:    field,
		Operator: op,
		Value:    value,
	})
	return q
}

// OrderBy добавляет сортировку
func (q *QueryBuilder[T]) OrderBy(field string, order store.SortOrder) *QueryBuilder[T] {
	q.query.Sort = append(q.query.Sort, store.SortField{Field: field, Order: order})
	return q
}

// OrderByDesc добавляет сортировку по убыванию
func (q *QueryBuilder[T]) OrderByDesc(field string) *QueryBuilder[T] {
	return q.OrderBy(field, store.Desc)
}

// Limit устанавливает лимит результатов
func (q *QueryBuilder[T]) Limit(limit int) *QueryBuilder[T] {
	q.query.Limit = int64(limit)
	return q
}

// Offset устанавливает смещение
func (q *QueryBuilder[T]) Offset(offset int) *QueryBuilder[T] {
	q.query.Skip = int64(offset)
	return q
}

// Page устанавливает страницу (нумерация с 1)
func (q *QueryBuilder[T]) Page(page, pageSize int) *QueryBuilder[T] {
	if page < 1 || pageSize < 1 {
		q.err = invalidArgument(fmt.Sprintf("invalid page %d of size %d", page, pageSize))
		return q
	}
	q.query.Skip = int64((page - 1) * pageSize)
	q.query.Limit = int64(pageSize)
	return q
}

// Build возвращает копию собранного запроса
func (q *QueryBuilder[T]) Build() (store.Query, error) {
	if q.err != nil {
		return store.Query{}, q.err
	}
	built := store.Query{
		Conditions: append([]store.Condition(nil), q.query.Conditions...),
		Sort:       append([]store.SortField(nil), q.query.Sort...),
		Limit:      q.query.Limit,
		Skip:       q.query.Skip,
	}
	if err := built.Validate(); err != nil {
		return store.Query{}, core.Wrap(err, core.ErrInvalidArgument, "invalid query")
	}
	return built, nil
}

// Stream открывает курсор по результатам запроса
func (q *QueryBuilder[T]) Stream(ctx context.Context) (*Cursor[T], error) {
	built, err := q.Build()
	if err != nil {
		return nil, err
	}
	return find[T](ctx, q.reader.repo, opQuery, q.reader.collection, built)
}

// Execute выполняет запрос и возвращает все результаты
func (q *QueryBuilder[T]) Execute(ctx context.Context) ([]T, error) {
	cursor, err := q.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return cursor.All(ctx)
}

// ExecuteAsync асинхронная форма Execute. Запрос фиксируется в момент вызова.
func (q *QueryBuilder[T]) ExecuteAsync(ctx context.Context) *Future[[]T] {
	snapshot := &QueryBuilder[T]{reader: q.reader, err: q.err}
	snapshot.query, _ = q.Build()
	return Go(ctx, q.reader.repo.executor, func(ctx context.Context) ([]T, error) {
		return snapshot.Execute(ctx)
	})
}

// Count возвращает количество документов, подходящих под условия (без учета Limit и Offset)
func (q *QueryBuilder[T]) Count(ctx context.Context) (int64, error) {
	built, err := q.Build()
	if err != nil {
		return 0, err
	}
	built.Limit, built.Skip = 0, 0
	return count(ctx, q.reader.repo, q.reader.collection, built)
}

// First возвращает первый результат запроса
func (q *QueryBuilder[T]) First(ctx context.Context) (core.Option[T], error) {
	built, err := q.Build()
	if err != nil {
		return core.None[T](), err
	}
	built.Limit = 1

	cursor, err := find[T](ctx, q.reader.repo, opQuery, q.reader.collection, built)
	if err != nil {
		return core.None[T](), err
	}
	items, err := cursor.All(ctx)
	if err != nil || len(items) == 0 {
		return core.None[T](), err
	}
	return core.Some(items[0]), nil
}

// Exists проверяет наличие хотя бы одного документа, подходящего под условия
func (q *QueryBuilder[T]) Exists(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
