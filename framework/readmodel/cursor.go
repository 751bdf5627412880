package readmodel

import (
	"context"
	"iter"

	"github.com/akriventsev/readmodel/framework/store"
	"go.mongodb.org/mongo-driver/bson"
)

// Cursor ленивая последовательность документов коллекции.
// Документы подгружаются пачками по мере итерации; декодирование выполняется при чтении.
// Ошибки итерации не повторяются: курсор нельзя продолжить с места сбоя.
type Cursor[T any] struct {
	inner      store.Cursor
	collection string
	err        error
}

func newCursor[T any](inner store.Cursor, collection string) *Cursor[T] {
	return &Cursor[T]{inner: inner, collection: collection}
}

// Next переходит к следующему документу
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	return c.inner.Next(ctx)
}

// Current возвращает текущий документ без декодирования
func (c *Cursor[T]) Current() bson.Raw {
	return c.inner.Current()
}

// Decode декодирует текущий документ
func (c *Cursor[T]) Decode() (T, error) {
	var v T
	if err := store.Unmarshal(c.inner.Current(), &v); err != nil {
		var zero T
		return zero, decodeError(err, c.collection)
	}
	return v, nil
}

// Err возвращает ошибку итерации
func (c *Cursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	return streamError(c.inner.Err(), opIterate, c.collection)
}

// Close закрывает курсор
func (c *Cursor[T]) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}

// All читает оставшиеся документы и закрывает курсор
func (c *Cursor[T]) All(ctx context.Context) ([]T, error) {
	defer c.Close(ctx)

	result := make([]T, 0)
	for c.Next(ctx) {
		v, err := c.Decode()
		if err != nil {
			c.err = err
			return nil, err
		}
		result = append(result, v)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Seq возвращает итератор по оставшимся документам; курсор закрывается по окончании итерации.
// Ошибка декодирования или итерации отдается последним элементом.
func (c *Cursor[T]) Seq(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer c.Close(ctx)

		for c.Next(ctx) {
			v, err := c.Decode()
			if err != nil {
				c.err = err
				var zero T
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}
