package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dario.cat/mergo"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/mq"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// HandleNodeResult записывает результат узла, присланный исполнителем.
//
// Поздние результаты (задача отменена, run завершён, попытка не совпадает)
// отбрасываются. Результаты записываются и для SUSPENDED run,
// но новые узлы отправляются только в RUNNING.
//
// Задача в scheduler закрывается только после сохранения run, поэтому
// повторная доставка результата после ошибки хранилища применяется заново.
func (o *Orchestrator) HandleNodeResult(ctx context.Context, tenantID string, result domain.NodeResult) error {
	if result.TaskID == "" {
		result.TaskID = domain.TaskID(result.RunID, result.NodeID, result.Attempt)
	}

	_, err := o.withRun(ctx, tenantID, result.RunID, func(ctx context.Context, tx *runTx) error {
		logger := o.logger.With(
			"run_id", result.RunID,
			"node_id", result.NodeID,
			"task_id", result.TaskID,
			"attempt", result.Attempt,
		)

		// 1. Задача в scheduler (не отслеживается — после рестарта движка)
		if task, ok := o.scheduler.Task(result.TaskID); ok && task.Status.IsTerminal() {
			o.discardLate(logger, "task is "+string(task.Status))
			return nil
		}

		// 2. Состояние run и узла
		if tx.run.Status.IsTerminal() {
			o.discardLate(logger, "run is "+string(tx.run.Status))
			return nil
		}
		exec := tx.run.Execution(result.NodeID)
		if exec == nil || exec.Status != domain.NodeStatusRunning || exec.Attempt != result.Attempt {
			o.discardLate(logger, "attempt is not running")
			return nil
		}

		// 3. Применяем результат
		if result.Success {
			if err := o.completeNode(tx, exec, result); err != nil {
				return err
			}
		} else if err := o.nodeAttemptFailed(ctx, tx, exec, result); err != nil {
			return err
		}
		tx.onCommit(func() {
			o.scheduler.CompleteTask(result.TaskID, result.Success, result.Error)
			telemetry.NodeResultsTotal.WithLabelValues(outcomeLabel(result.Success)).Inc()
		})

		// 4. Перепланирование
		return o.advance(ctx, tx)
	})
	return err
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// completeNode сохраняет выход узла и объединяет его с переменными run.
func (o *Orchestrator) completeNode(tx *runTx, exec *domain.NodeExecution, result domain.NodeResult) error {
	now := o.clock.Now()
	exec.Status = domain.NodeStatusCompleted
	exec.Output = result.Output
	exec.ExecutorID = result.ExecutorID
	exec.LastError = ""
	exec.Retryable = false
	exec.FinishedAt = &now
	exec.UpdatedAt = now

	if len(result.Output) > 0 {
		if tx.run.Variables == nil {
			tx.run.Variables = make(map[string]any)
		}
		if err := mergo.Merge(&tx.run.Variables, result.Output, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge output of node %s: %w", exec.NodeID, err)
		}
	}
	tx.run.ExecutionPath = append(tx.run.ExecutionPath, exec.NodeID)

	tx.emit(domain.NodeCompleted{
		NodeID:     exec.NodeID,
		Attempt:    exec.Attempt,
		ExecutorID: result.ExecutorID,
		Output:     result.Output,
	})
	o.logger.Debug("node completed", "run_id", tx.run.ID, "node_id", exec.NodeID, "attempt", exec.Attempt)
	return nil
}

// nodeAttemptFailed применяет политику retry к проваленной попытке.
// Ошибка очереди повторов прерывает транзакцию.
func (o *Orchestrator) nodeAttemptFailed(ctx context.Context, tx *runTx, exec *domain.NodeExecution, result domain.NodeResult) error {
	exec.ExecutorID = result.ExecutorID

	node, ok := tx.def.Node(exec.NodeID)
	if !ok || result.Permanent {
		o.failNode(tx, exec, result.Error)
		return nil
	}

	policy := tx.def.RetryPolicyFor(node)
	if !policy.ShouldRetry(exec.Attempt) {
		o.failNode(tx, exec, result.Error)
		return nil
	}

	task := &domain.ScheduledTask{
		ID:          result.TaskID,
		RunID:       tx.run.ID,
		TenantID:    tx.run.TenantID,
		NodeID:      exec.NodeID,
		Attempt:     exec.Attempt,
		RetryPolicy: policy,
	}
	entry, err := o.scheduler.ScheduleRetry(ctx, task, result.Error)
	if err != nil {
		return err
	}

	tx.emit(domain.NodeFailed{
		NodeID:    exec.NodeID,
		Attempt:   exec.Attempt,
		Error:     result.Error,
		Retryable: true,
	})
	o.waitRetry(ctx, tx, exec, entry)
	return nil
}

// RetryNode запускает наступивший повтор узла. Вызывается scheduler.
//
// Для SUSPENDED run узел только помечается готовым к повтору,
// отправка произойдёт при возобновлении.
func (o *Orchestrator) RetryNode(ctx context.Context, entry domain.RetryEntry) error {
	_, err := o.withRun(ctx, entry.TenantID, entry.RunID, func(ctx context.Context, tx *runTx) error {
		logger := o.logger.With("run_id", entry.RunID, "node_id", entry.NodeID, "attempt", entry.Attempt)

		if tx.run.Status.IsTerminal() {
			logger.Debug("retry discarded", "reason", "run is "+string(tx.run.Status))
			return nil
		}
		exec := tx.run.Execution(entry.NodeID)
		if exec == nil || exec.Status != domain.NodeStatusWaitingRetry || exec.Attempt+1 != entry.Attempt {
			logger.Debug("retry discarded", "reason", "node is not waiting for this attempt")
			return nil
		}

		exec.Status = domain.NodeStatusFailed
		exec.Retryable = true
		exec.UpdatedAt = o.clock.Now()
		tx.touch()

		logger.Debug("retry due")
		return o.advance(ctx, tx)
	})
	if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrDefinitionNotFound) {
		o.logger.Warn("retry for unknown run dropped", "run_id", entry.RunID, "node_id", entry.NodeID, "error", err)
		return nil
	}
	return err
}

// HandleResultMessage — обработчик очереди результатов исполнителей.
func (o *Orchestrator) HandleResultMessage(ctx context.Context, delivery *mq.Delivery) error {
	result, err := mq.ParsePayload[domain.NodeResult](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse task.result payload", "error", err)
		return mq.Reject(err)
	}

	o.logger.Debug("received task.result",
		"task_id", result.TaskID,
		"run_id", result.RunID,
		"node_id", result.NodeID,
		"success", result.Success,
	)

	if err := o.HandleNodeResult(ctx, result.TenantID, result); err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrTenantRequired) {
			return mq.Reject(err)
		}
		o.logger.Error("failed to handle node result",
			"task_id", result.TaskID,
			"run_id", result.RunID,
			"error", err,
		)
		return err
	}
	return nil
}

func (o *Orchestrator) discardLate(logger *slog.Logger, reason string) {
	telemetry.NodeResultsTotal.WithLabelValues("late").Inc()
	logger.Debug("late result discarded", "reason", reason)
}
