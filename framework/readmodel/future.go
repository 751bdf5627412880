package readmodel

import (
	"context"
	"fmt"

	"github.com/akriventsev/readmodel/framework/core"
	"golang.org/x/sync/semaphore"
)

// Future результат асинхронной операции
type Future[T any] struct {
	done   chan struct{}
	result core.Result[T]
}

// Done закрывается после завершения операции
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await ждет завершения операции или отмены ctx.
// Отмена ctx прекращает ожидание, но не саму операцию.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Error
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result возвращает результат завершенной операции; ok = false, если операция еще выполняется
func (f *Future[T]) Result() (core.Result[T], bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return core.Result[T]{}, false
	}
}

func (f *Future[T]) complete(value T, err error) {
	if err != nil {
		f.result = core.Err[T](err)
	} else {
		f.result = core.Ok(value)
	}
	close(f.done)
}

// Executor запускает асинхронные операции, ограничивая их число
type Executor struct {
	sem *semaphore.Weighted
}

// NewExecutor создает исполнитель на workers одновременных операций; 0 = без ограничения
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		return &Executor{}
	}
	return &Executor{sem: semaphore.NewWeighted(int64(workers))}
}

// Go запускает fn в отдельной горутине. Ожидание свободного слота прерывается отменой ctx.
func Go[T any](ctx context.Context, exec *Executor, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		var (
			value T
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				value, err = zero, core.NewError(ErrAsyncPanic, fmt.Sprintf("async operation panicked: %v", r))
			}
			f.complete(value, err)
		}()

		if exec != nil && exec.sem != nil {
			if err = exec.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer exec.sem.Release(1)
		}
		value, err = fn(ctx)
	}()

	return f
}
