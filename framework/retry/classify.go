package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/akriventsev/readmodel/framework/core"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrTransientFailure код ошибки транзиентного (сетевого) сбоя
const ErrTransientFailure = "TRANSIENT_FAILURE"

// IsTransient классифицирует ошибку по единственному правилу:
// сбои соединения и транспортного уровня транзиентны, все остальные - нет.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Отмена и дедлайн вызывающего кода не лечатся повтором
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Адаптеры могут явно пометить ошибку как транзиентную
	if core.HasCode(err, ErrTransientFailure) {
		return true
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// syscall.Errno тоже реализует net.Error, поэтому учитываем только таймауты
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

// NewTransientError помечает ошибку как транзиентную
func NewTransientError(cause error, message string) *core.FrameworkError {
	if cause == nil {
		return core.NewError(ErrTransientFailure, message)
	}
	return core.Wrap(cause, ErrTransientFailure, message)
}
