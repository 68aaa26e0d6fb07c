package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/mq"
)

// handleTaskDispatch обрабатывает задачу из очереди tasks.<executor_type>.
func (w *Worker) handleTaskDispatch(ctx context.Context, delivery *mq.Delivery) error {
	task, err := mq.ParsePayload[domain.ScheduledTask](&delivery.Message)
	if err != nil {
		// Битое сообщение: повтор не поможет, отправляем в DLQ
		return mq.Reject(err)
	}

	w.logger.Debug("received task.dispatch",
		"task_id", task.ID,
		"run_id", task.RunID,
		"node_id", task.NodeID,
	)

	result := w.processTask(ctx, &task)

	if err := w.publishResult(ctx, result); err != nil {
		// Результат не доставлен — задача вернётся в очередь и выполнится повторно.
		return err
	}
	return nil
}

// processTask выполняет задачу и логирует исход.
func (w *Worker) processTask(ctx context.Context, task *domain.ScheduledTask) domain.NodeResult {
	w.logger.Info("task started",
		"task_id", task.ID,
		"run_id", task.RunID,
		"node_id", task.NodeID,
		"type", task.NodeType,
		"attempt", task.Attempt,
	)

	result := w.runtime.Execute(ctx, task)

	if result.Success {
		w.logger.Info("task succeeded",
			"task_id", task.ID,
			"run_id", task.RunID,
			"node_id", task.NodeID,
			"attempt", task.Attempt,
		)
	} else {
		w.logger.Warn("task failed",
			"task_id", task.ID,
			"run_id", task.RunID,
			"node_id", task.NodeID,
			"attempt", task.Attempt,
			"error", result.Error,
			"permanent", result.Permanent,
		)
	}

	return result
}

// publishResult публикует результат в engine.results.
func (w *Worker) publishResult(ctx context.Context, result domain.NodeResult) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping task.result publish",
			"task_id", result.TaskID,
		)
		return nil
	}

	if err := w.publisher.PublishResult(ctx, result); err != nil {
		return fmt.Errorf("publish result %s: %w", result.TaskID, err)
	}
	return nil
}
