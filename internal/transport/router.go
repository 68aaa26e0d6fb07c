package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// Dispatcher доставляет задачу исполнителю.
//
// nil-ошибка означает, что задача принята. Ошибка, обёрнутая
// resilience.Permanent, не повторяется.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error
}

// DispatcherFunc — адаптер функции к Dispatcher.
type DispatcherFunc func(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error

// Dispatch вызывает f.
func (f DispatcherFunc) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	return f(ctx, task, executor)
}

// Router выбирает Dispatcher по типу коммуникации.
type Router struct {
	mu          sync.RWMutex
	dispatchers map[domain.CommunicationType]Dispatcher
}

// NewRouter создаёт пустой Router.
func NewRouter() *Router {
	return &Router{dispatchers: make(map[domain.CommunicationType]Dispatcher)}
}

// Register регистрирует диспетчер для типа коммуникации.
func (r *Router) Register(comm domain.CommunicationType, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[comm] = d
}

// Has проверяет, есть ли диспетчер для типа.
func (r *Router) Has(comm domain.CommunicationType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dispatchers[comm]
	return ok
}

// Dispatch доставляет задачу через диспетчер типа коммуникации исполнителя.
//
// Тип берётся у исполнителя, затем у задачи; пустой означает LOCAL.
func (r *Router) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	comm := CommunicationFor(task, executor)

	r.mu.RLock()
	d, ok := r.dispatchers[comm]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDispatcher, comm)
	}

	start := time.Now()
	err := d.Dispatch(ctx, task, executor)
	telemetry.DispatchDuration.WithLabelValues(string(comm)).Observe(time.Since(start).Seconds())
	return err
}

// CommunicationFor определяет тип коммуникации для пары задача/исполнитель.
func CommunicationFor(task *domain.ScheduledTask, executor domain.ExecutorInfo) domain.CommunicationType {
	if executor.CommunicationType != "" {
		return executor.CommunicationType
	}
	if task.CommunicationType != "" {
		return task.CommunicationType
	}
	return domain.CommunicationLocal
}
