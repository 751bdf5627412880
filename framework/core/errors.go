// Package core предоставляет систему ошибок фреймворка.
package core

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Коды ошибок фреймворка
const (
	ErrNotFound             = "NOT_FOUND"
	ErrAlreadyExists        = "ALREADY_EXISTS"
	ErrInvalidConfig        = "INVALID_CONFIG"
	ErrInvalidArgument      = "INVALID_ARGUMENT"
	ErrInitializationFailed = "INITIALIZATION_FAILED"
	ErrUnsupported          = "UNSUPPORTED"
)

// HasCode проверяет, есть ли в цепочке ошибка фреймворка с указанным кодом
func HasCode(err error, code string) bool {
	var fwErr *FrameworkError
	for err != nil {
		if errors.As(err, &fwErr) {
			if fwErr.Code == code {
				return true
			}
			err = fwErr.Cause
			continue
		}
		return false
	}
	return false
}

// CodeOf возвращает код первой ошибки фреймворка в цепочке
func CodeOf(err error) string {
	var fwErr *FrameworkError
	if errors.As(err, &fwErr) {
		return fwErr.Code
	}
	return ""
}

// FrameworkError базовый тип ошибки фреймворка
type FrameworkError struct {
	Code       string
	Message    string
	Cause      error
	StackTrace string
}

// Error реализует интерфейс error
func (e *FrameworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

// Is проверяет, соответствует ли ошибка коду
func (e *FrameworkError) Is(target error) bool {
	if t, ok := target.(*FrameworkError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError создает новую ошибку фреймворка
func NewError(code, message string) *FrameworkError {
	return &FrameworkError{
		Code:       code,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Wrap оборачивает существующую ошибку
func Wrap(err error, code, message string) *FrameworkError {
	if err == nil {
		return nil
	}
	return &FrameworkError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// captureStackTrace захватывает stack trace
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// Убираем первые несколько строк (сама функция captureStackTrace)
	lines := strings.Split(stack, "\n")
	if len(lines) > 4 {
		lines = lines[4:]
	}
	return strings.Join(lines, "\n")
}

