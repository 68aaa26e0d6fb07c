package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/worker"
)

// ResultHandler принимает результаты выполнения узлов.
// Реализуется оркестратором.
type ResultHandler interface {
	HandleNodeResult(ctx context.Context, tenantID string, result domain.NodeResult) error
}

// LocalDispatcher выполняет задачи в процессе движка.
//
// Dispatch запускает задачу в горутине и сразу возвращается;
// результат отдаётся в ResultHandler.
type LocalDispatcher struct {
	runtime *worker.Runtime
	logger  *slog.Logger

	mu      sync.RWMutex
	handler ResultHandler

	wg sync.WaitGroup
}

// NewLocalDispatcher создаёт LocalDispatcher.
func NewLocalDispatcher(runtime *worker.Runtime, logger *slog.Logger) *LocalDispatcher {
	if runtime == nil {
		runtime = worker.NewRuntime(worker.RuntimeConfig{ExecutorID: "local", Logger: logger})
	}
	return &LocalDispatcher{
		runtime: runtime,
		logger:  telemetry.OrDefault(logger).With("component", "local_dispatcher"),
	}
}

// SetHandler задаёт получателя результатов.
// Оркестратор создаётся после транспорта, поэтому handler ставится отдельно.
func (d *LocalDispatcher) SetHandler(h ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Dispatch запускает выполнение задачи.
func (d *LocalDispatcher) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	d.mu.RLock()
	handler := d.handler
	d.mu.RUnlock()
	if handler == nil {
		return ErrNoResultHandler
	}

	// Копия: scheduler продолжает владеть своей записью
	t := *task
	if executor.ID != "" {
		t.ExecutorID = executor.ID
	}

	// Выполнение переживает отмену ctx вызывающего
	execCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		result := d.runtime.Execute(execCtx, &t)
		if executor.ID != "" {
			result.ExecutorID = executor.ID
		}

		if err := handler.HandleNodeResult(execCtx, t.TenantID, result); err != nil {
			d.logger.Warn("failed to handle local result",
				"task_id", t.ID,
				"run_id", t.RunID,
				"error", err,
			)
		}
	}()

	return nil
}

// Wait ждёт завершения всех запущенных задач.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
