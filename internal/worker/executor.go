package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/dagflow/internal/domain"
)

// Executor — интерфейс для выполнения конкретного типа узла.
//
// Реализации: HTTPExecutor, DelayExecutor, TransformExecutor, NoopExecutor.
//
// task.Payload содержит отрендеренную конфигурацию узла.
// ctx может содержать таймаут, установленный из NodeDefinition.TimeoutSec.
type Executor interface {
	Execute(ctx context.Context, task *domain.ScheduledTask) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения task.
type ExecutionResult struct {
	// Outputs — выходные данные выполнения.
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string

	// Permanent — логическую ошибку нет смысла повторять.
	Permanent bool
}

// Registry — реестр executor'ов по типу узла.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry создаёт реестр с зарегистрированными executor'ами по умолчанию.
//
// Регистрирует: http, delay, transform, noop.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register("http", NewHTTPExecutor(nil))
	r.Register("delay", &DelayExecutor{})
	r.Register("transform", &TransformExecutor{})
	r.Register("noop", &NoopExecutor{})
	return r
}

// Register добавляет executor для типа узла.
func (r *Registry) Register(nodeType string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = executor
}

// Get возвращает executor для типа узла.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return executor, nil
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
