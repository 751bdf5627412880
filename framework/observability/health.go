package observability

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Статусы проверок
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck интерфейс для health checks
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckResult результат health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Healthy возвращает true, если все проверки прошли
func (r HealthCheckResult) Healthy() bool {
	return r.Status == StatusHealthy
}

// CheckResult результат отдельной проверки
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunHealthChecks выполняет проверки последовательно; timeout ограничивает все проверки вместе
func RunHealthChecks(ctx context.Context, timeout time.Duration, checks ...HealthCheck) HealthCheckResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := HealthCheckResult{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)

		checkResult := CheckResult{Status: StatusHealthy, Duration: time.Since(start)}
		if err != nil {
			checkResult.Status = StatusUnhealthy
			checkResult.Message = err.Error()
			result.Status = StatusUnhealthy
		}
		result.Checks[check.Name()] = checkResult
	}

	return result
}

// Pinger источник, доступность которого проверяется ping'ом
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthCheck проверка доступности хранилища
type StoreHealthCheck struct {
	name   string
	pinger Pinger
}

// NewStoreHealthCheck создает новый StoreHealthCheck
func NewStoreHealthCheck(name string, pinger Pinger) *StoreHealthCheck {
	return &StoreHealthCheck{name: name, pinger: pinger}
}

// Name возвращает имя проверки
func (h *StoreHealthCheck) Name() string {
	return h.name
}

// Check выполняет проверку
func (h *StoreHealthCheck) Check(ctx context.Context) error {
	if h.pinger == nil {
		return fmt.Errorf("store is not configured")
	}
	if err := h.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// FuncHealthCheck проверка на основе функции
type FuncHealthCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// NewFuncHealthCheck создает новый FuncHealthCheck
func NewFuncHealthCheck(name string, checkFunc func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, checkFunc: checkFunc}
}

// Name возвращает имя проверки
func (h *FuncHealthCheck) Name() string {
	return h.name
}

// Check выполняет проверку
func (h *FuncHealthCheck) Check(ctx context.Context) error {
	if h.checkFunc == nil {
		return fmt.Errorf("check function is nil")
	}
	return h.checkFunc(ctx)
}

// MemoryHealthCheck проверка использования памяти
type MemoryHealthCheck struct {
	// MaxUsedPercent порог доли занятой памяти кучи, по умолчанию 95
	MaxUsedPercent float64
}

// NewMemoryHealthCheck создает новый MemoryHealthCheck
func NewMemoryHealthCheck() *MemoryHealthCheck {
	return &MemoryHealthCheck{MaxUsedPercent: 95}
}

// Name возвращает имя проверки
func (h *MemoryHealthCheck) Name() string {
	return "memory"
}

// Check выполняет проверку
func (h *MemoryHealthCheck) Check(ctx context.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usedPercent := float64(m.Alloc) / float64(m.Sys) * 100
	if usedPercent > h.MaxUsedPercent {
		return fmt.Errorf("memory usage too high: %.2f%%", usedPercent)
	}

	return nil
}
