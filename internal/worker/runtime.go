package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/resilience"
	"github.com/shaiso/dagflow/internal/telemetry"
)

const defaultTaskTimeout = 5 * time.Minute

// Runtime выполняет одну задачу и превращает исход в domain.NodeResult.
//
// Используется как локальным транспортом движка, так и AMQP-воркером.
type Runtime struct {
	registry       *Registry
	executorID     string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// RuntimeConfig — конфигурация Runtime.
type RuntimeConfig struct {
	// Registry — реестр executor'ов (если nil — NewRegistry()).
	Registry *Registry

	// ExecutorID — идентификатор исполнителя в результатах.
	ExecutorID string

	// DefaultTimeout — таймаут задачи без TimeoutSec (default: 5m).
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

// NewRuntime создаёт Runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	return &Runtime{
		registry:       registry,
		executorID:     cfg.ExecutorID,
		defaultTimeout: timeout,
		logger:         telemetry.OrDefault(cfg.Logger).With("component", "runtime"),
	}
}

// ExecutorID возвращает идентификатор исполнителя.
func (r *Runtime) ExecutorID() string {
	return r.executorID
}

// Registry возвращает реестр executor'ов.
func (r *Runtime) Registry() *Registry {
	return r.registry
}

// Execute выполняет задачу.
//
// Ошибки не возвращаются: любой исход превращается в NodeResult.
// Неизвестный тип узла и невалидная конфигурация дают Permanent=true.
func (r *Runtime) Execute(ctx context.Context, task *domain.ScheduledTask) domain.NodeResult {
	ctx, span := telemetry.StartSpan(ctx, "worker.execute",
		attribute.String("task_id", task.ID),
		attribute.String("node_type", task.NodeType),
		attribute.Int("attempt", task.Attempt),
	)

	result := r.execute(ctx, task)

	var spanErr error
	if !result.Success {
		spanErr = errors.New(result.Error)
	}
	telemetry.EndSpan(span, spanErr)

	return result
}

func (r *Runtime) execute(ctx context.Context, task *domain.ScheduledTask) domain.NodeResult {
	logger := r.logger.With("task_id", task.ID, "node_id", task.NodeID, "attempt", task.Attempt)

	executor, err := r.registry.Get(task.NodeType)
	if err != nil {
		logger.Warn("task rejected", "node_type", task.NodeType, "error", err)
		return domain.NewFailureResult(task, r.executorID, err, true)
	}

	timeout := task.Timeout()
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("task started", "node_type", task.NodeType, "timeout", timeout)
	started := time.Now()

	result, err := executor.Execute(execCtx, task)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
		}
		permanent := errors.Is(err, ErrInvalidConfig) || resilience.IsPermanent(err)

		logger.Warn("task failed", "error", err, "permanent", permanent)
		return domain.NewFailureResult(task, r.executorID, err, permanent)
	}

	if result == nil {
		result = &ExecutionResult{}
	}

	if result.Error != "" {
		logger.Warn("task failed", "error", result.Error, "permanent", result.Permanent)
		return domain.NewFailureResult(task, r.executorID, errors.New(result.Error), result.Permanent)
	}

	logger.Debug("task succeeded", "duration", time.Since(started))
	return domain.NewSuccessResult(task, r.executorID, result.Outputs)
}
