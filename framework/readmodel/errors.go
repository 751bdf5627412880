package readmodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/retry"
)

// Коды ошибок репозитория
const (
	// ErrTransientFailure бюджет повторов исчерпан; Cause содержит последнюю транзиентную ошибку
	ErrTransientFailure = retry.ErrTransientFailure
	// ErrStoreFailure нетранзиентная ошибка хранилища
	ErrStoreFailure = "STORE_FAILURE"
	// ErrDecodeFailed сохраненный документ не отображается в тип read-модели
	ErrDecodeFailed = "DECODE_FAILED"
	// ErrAsyncPanic паника внутри асинхронной операции
	ErrAsyncPanic = "ASYNC_PANIC"
)

// IsTransient проверяет, что операция упала из-за транзиентного сбоя после всех попыток
func IsTransient(err error) bool {
	return core.HasCode(err, ErrTransientFailure)
}

// IsDecodeError проверяет, что документ не удалось декодировать
func IsDecodeError(err error) bool {
	return core.HasCode(err, ErrDecodeFailed)
}

// IsInvalidConfig проверяет, что ошибка вызвана некорректной конфигурацией
func IsInvalidConfig(err error) bool {
	return core.HasCode(err, core.ErrInvalidConfig)
}

// IsInvalidArgument проверяет, что ошибка вызвана некорректным аргументом
func IsInvalidArgument(err error) bool {
	return core.HasCode(err, core.ErrInvalidArgument)
}

// classify приводит ошибку обращения к хранилищу, прошедшего политику повторов, к коду репозитория.
// Ошибки фреймворка и ошибки контекста возвращаются как есть.
func classify(err error, operation, collection string) error {
	return classifyAs(err, operation, collection, "failed after retries")
}

// streamError классифицирует сбой курсора или потока изменений; такие сбои не повторяются
func streamError(err error, operation, collection string) error {
	return classifyAs(err, operation, collection, "interrupted")
}

func classifyAs(err error, operation, collection, transientOutcome string) error {
	if err == nil {
		return nil
	}
	var fwErr *core.FrameworkError
	if errors.As(err, &fwErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if retry.IsTransient(err) {
		return core.Wrap(err, ErrTransientFailure,
			fmt.Sprintf("%s on %q %s", operation, collection, transientOutcome))
	}
	return core.Wrap(err, ErrStoreFailure, fmt.Sprintf("%s on %q failed", operation, collection))
}

func decodeError(err error, collection string) error {
	return core.Wrap(err, ErrDecodeFailed, fmt.Sprintf("failed to decode document from %q", collection))
}

func invalidArgument(message string) error {
	return core.NewError(core.ErrInvalidArgument, message)
}
