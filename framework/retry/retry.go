// Package retry предоставляет политику повторов для одиночных обращений к хранилищу.
//
// Политика повторяет операцию только при транзиентных (сетевых) сбоях, без задержки
// и без jitter, и сдается после фиксированного числа попыток. Последняя транзиентная
// ошибка возвращается вызывающему коду без изменений.
package retry

import (
	"context"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// DefaultMaxAttempts количество попыток по умолчанию
const DefaultMaxAttempts = 3

// Operation операция над хранилищем, возвращающая результат
type Operation[T any] func(ctx context.Context) (T, error)

// Classifier определяет, является ли ошибка транзиентной
type Classifier func(err error) bool

// Observer получает уведомление о каждой неудачной попытке, после которой будет повтор
type Observer func(ctx context.Context, attempt int, err error)

// Policy политика повторов. Неизменяема после создания и безопасна для конкурентного использования.
type Policy struct {
	maxAttempts int
	classifier  Classifier
	observers   []Observer
}

// Option настройка Policy
type Option func(*Policy)

// WithMaxAttempts устанавливает максимальное количество попыток (минимум 1)
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.maxAttempts = n
	}
}

// WithClassifier заменяет классификатор транзиентных ошибок
func WithClassifier(classifier Classifier) Option {
	return func(p *Policy) {
		p.classifier = classifier
	}
}

// WithObserver добавляет наблюдателя за повторами
func WithObserver(observer Observer) Option {
	return func(p *Policy) {
		if observer != nil {
			p.observers = append(p.observers, observer)
		}
	}
}

// NewPolicy создает политику повторов
func NewPolicy(opts ...Option) (*Policy, error) {
	p := &Policy{
		maxAttempts: DefaultMaxAttempts,
		classifier:  IsTransient,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", p.maxAttempts)
	}
	if p.classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	return p, nil
}

// DefaultPolicy возвращает политику с тремя попытками и классификатором IsTransient
func DefaultPolicy() *Policy {
	p, _ := NewPolicy()
	return p
}

// NoRetry возвращает политику с единственной попыткой
func NoRetry() *Policy {
	p, _ := NewPolicy(WithMaxAttempts(1))
	return p
}

// MaxAttempts возвращает максимальное количество попыток
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// With возвращает копию политики с дополнительными настройками
func (p *Policy) With(opts ...Option) (*Policy, error) {
	clone := &Policy{
		maxAttempts: p.maxAttempts,
		classifier:  p.classifier,
		observers:   append([]Observer(nil), p.observers...),
	}
	for _, opt := range opts {
		opt(clone)
	}
	if clone.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", clone.maxAttempts)
	}
	if clone.classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	return clone, nil
}

// Do выполняет операцию без результата под политикой повторов
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Retriable(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retriable выполняет операцию под политикой повторов и возвращает ее результат.
// Попытки строго последовательны: следующая начинается только после ошибки предыдущей.
func Retriable[T any](ctx context.Context, p *Policy, op Operation[T]) (T, error) {
	if p == nil {
		p = DefaultPolicy()
	}

	attempt := 0
	return goretry.DoValue(ctx, p.backoff(), func(ctx context.Context) (T, error) {
		attempt++
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !p.classifier(err) {
			return value, err
		}
		if attempt < p.maxAttempts {
			for _, observer := range p.observers {
				observer(ctx, attempt, err)
			}
		}
		return value, goretry.RetryableError(err)
	})
}

// backoff создает новый (stateful) backoff на один вызов: немедленный повтор, maxAttempts-1 раз
func (p *Policy) backoff() goretry.Backoff {
	immediate := goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})
	return goretry.WithMaxRetries(uint64(p.maxAttempts-1), immediate)
}
