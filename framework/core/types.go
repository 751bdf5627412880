// Package core предоставляет базовые типы для всех компонентов фреймворка.
package core

// Result[T] результат операции (успех/ошибка)
type Result[T any] struct {
	Value T
	Error error
}

// Ok создает успешный результат
func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Err создает результат с ошибкой
func Err[T any](err error) Result[T] {
	return Result[T]{Error: err}
}

// IsOk проверяет, успешен ли результат
func (r Result[T]) IsOk() bool {
	return r.Error == nil
}

// IsErr проверяет, есть ли ошибка в результате
func (r Result[T]) IsErr() bool {
	return r.Error != nil
}

// Unwrap возвращает значение и ошибку
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Error
}

// Option[T] опциональное значение
type Option[T any] struct {
	value T
	some  bool
}

// Some создает Option с значением
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, some: true}
}

// None создает пустой Option
func None[T any]() Option[T] {
	return Option[T]{some: false}
}

// IsSome проверяет, есть ли значение
func (o Option[T]) IsSome() bool {
	return o.some
}

// IsNone проверяет, пуст ли Option
func (o Option[T]) IsNone() bool {
	return !o.some
}

// Value возвращает значение (panic если None)
func (o Option[T]) Value() T {
	if !o.some {
		panic("option is none")
	}
	return o.value
}

// ValueOr возвращает значение или значение по умолчанию
func (o Option[T]) ValueOr(defaultValue T) T {
	if o.some {
		return o.value
	}
	return defaultValue
}

// Get возвращает значение и признак его наличия
func (o Option[T]) Get() (T, bool) {
	return o.value, o.some
}

// ComponentType тип компонента
type ComponentType string

const (
	ComponentTypeAdapter ComponentType = "adapter"
)
