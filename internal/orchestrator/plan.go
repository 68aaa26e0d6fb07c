package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/engine"
	"github.com/shaiso/dagflow/internal/scheduler"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// advance — цикл планирования run в статусе RUNNING.
//
// Отправляет готовые узлы, пока узлы завершаются синхронно
// (пропуск по условию, ошибка рендеринга, dead letter).
// Затем решает судьбу run: COMPLETED, FAILED или ожидание результатов.
func (o *Orchestrator) advance(ctx context.Context, tx *runTx) (err error) {
	if tx.run.Status != domain.RunStatusRunning {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "orchestrator.plan",
		attribute.String("run_id", tx.run.ID.String()),
		attribute.String("tenant_id", tx.run.TenantID),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	dag := engine.BuildGraph(tx.def)

	for {
		// 1. Провал критичного узла сразу проваливает run
		if id, exec := criticalFailure(tx); exec != nil {
			reason := fmt.Sprintf("critical node %s failed: %s", id, exec.LastError)
			return o.finish(ctx, tx, domain.RunStatusFailed, domain.RunFailed{Reason: reason})
		}

		// 2. Планирование
		plan := engine.PlanWithGraph(tx.run, tx.def, dag)
		if plan.IsComplete {
			return o.finish(ctx, tx, domain.RunStatusCompleted, domain.RunCompleted{})
		}

		if len(plan.ReadyNodes) == 0 {
			// Ждём результаты узлов в полёте
			if tx.run.InFlight() > 0 {
				return nil
			}
			if plan.IsStuck {
				reason := fmt.Sprintf("run is stuck: %s (%s)", plan.StuckReason, strings.Join(plan.StuckNodes, ", "))
				return o.finish(ctx, tx, domain.RunStatusFailed, domain.RunFailed{Reason: reason})
			}
			if failed := failedNodes(tx.run); len(failed) > 0 {
				reason := "nodes failed: " + strings.Join(failed, ", ")
				return o.finish(ctx, tx, domain.RunStatusFailed, domain.RunFailed{Reason: reason})
			}
			return nil
		}

		// 3. Отправка готовых узлов
		settled := false
		for _, id := range plan.ReadyNodes {
			done, err := o.dispatchNode(ctx, tx, id)
			if err != nil {
				return err
			}
			settled = settled || done
		}
		if !settled {
			return nil
		}
	}
}

// dispatchNode готовит и отправляет очередную попытку узла.
// Возвращает true, если узел сразу пришёл в финальное состояние.
//
// Ошибки отправки и лимита идут через политику retry узла. Ошибка
// возвращается только при сбое самого планировщика и прерывает транзакцию.
func (o *Orchestrator) dispatchNode(ctx context.Context, tx *runTx, nodeID string) (bool, error) {
	run := tx.run
	node, ok := tx.def.Node(nodeID)
	if !ok {
		return false, nil
	}

	now := o.clock.Now()
	attempt := 1
	if prev := run.Execution(nodeID); prev != nil {
		attempt = prev.Attempt + 1
	}
	exec := &domain.NodeExecution{
		NodeID:    nodeID,
		Status:    domain.NodeStatusPending,
		Attempt:   attempt,
		StartedAt: &now,
		UpdatedAt: now,
	}
	run.SetExecution(exec)

	logger := o.logger.With("run_id", run.ID, "node_id", nodeID, "attempt", attempt)
	rctx := engine.NewContextFromRun(run)

	// Condition
	if node.Condition != "" {
		shouldRun, err := engine.RenderCondition(node.Condition, rctx)
		if err != nil {
			o.failNode(tx, exec, fmt.Sprintf("render condition: %v", err))
			return true, nil
		}
		if !shouldRun {
			logger.Debug("node skipped due to condition")
			exec.Status = domain.NodeStatusCompleted
			exec.Skipped = true
			exec.FinishedAt = &now
			run.ExecutionPath = append(run.ExecutionPath, nodeID)
			tx.emit(domain.NodeCompleted{NodeID: nodeID, Attempt: attempt, Skipped: true})
			return true, nil
		}
	}

	// Config
	payload, err := engine.RenderConfig(node.Config, rctx)
	if err != nil {
		o.failNode(tx, exec, fmt.Sprintf("render config: %v", err))
		return true, nil
	}

	task := &domain.ScheduledTask{
		ID:                domain.TaskID(run.ID, nodeID, attempt),
		RunID:             run.ID,
		TenantID:          run.TenantID,
		NodeID:            nodeID,
		NodeType:          node.Type,
		ExecutorType:      node.ExecutorType,
		CommunicationType: node.CommunicationType,
		Attempt:           attempt,
		Payload:           payload,
		RetryPolicy:       tx.def.RetryPolicyFor(node),
		TimeoutSec:        node.TimeoutSec,
		Status:            domain.TaskStatusPending,
		ScheduledAt:       now,
		UpdatedAt:         now,
	}

	exec.Status = domain.NodeStatusRunning
	exec.TaskID = task.ID
	tx.emit(domain.NodeScheduled{NodeID: nodeID, Attempt: attempt, TaskID: task.ID})

	outcome, err := o.scheduler.ScheduleTask(ctx, task)
	if errors.Is(err, scheduler.ErrTaskExists) {
		// Эта попытка уже в полёте: ждём её результат
		existing, _ := o.scheduler.Task(task.ID)
		exec.ExecutorID = existing.ExecutorID
		logger.Warn("task already in flight, awaiting its result", "task_id", task.ID)
		return false, nil
	}
	if err != nil {
		logger.Error("failed to schedule task", "task_id", task.ID, "error", err)
		return false, fmt.Errorf("schedule task %s: %w", task.ID, err)
	}
	taskID := task.ID
	tx.onRollback(func() { o.scheduler.CancelTask(taskID) })

	switch outcome.Status {
	case scheduler.OutcomeDispatched:
		exec.ExecutorID = outcome.ExecutorID
		tx.emit(domain.NodeDispatched{
			NodeID:     nodeID,
			Attempt:    attempt,
			TaskID:     task.ID,
			ExecutorID: outcome.ExecutorID,
		})
		return false, nil

	case scheduler.OutcomeRetryScheduled:
		o.waitRetry(ctx, tx, exec, *outcome.Retry)
		return false, nil

	default:
		tx.emit(domain.NodeDeadLettered{
			NodeID:  nodeID,
			Attempt: attempt,
			TaskID:  task.ID,
			Reason:  outcome.Reason,
		})
		o.failNode(tx, exec, outcome.Reason)
		return true, nil
	}
}

// waitRetry переводит узел в WAITING_RETRY под запись очереди повторов.
func (o *Orchestrator) waitRetry(ctx context.Context, tx *runTx, exec *domain.NodeExecution, entry domain.RetryEntry) {
	exec.Status = domain.NodeStatusWaitingRetry
	exec.Retryable = false
	exec.LastError = entry.Reason
	exec.UpdatedAt = o.clock.Now()

	tx.emit(domain.NodeRetryScheduled{
		NodeID:    exec.NodeID,
		Attempt:   entry.Attempt,
		ExecuteAt: entry.ExecuteAt,
		Reason:    entry.Reason,
	})

	if o.publisher != nil {
		if err := o.publisher.PublishRetry(ctx, entry.RunID, entry.NodeID, entry.Attempt); err != nil {
			o.logger.Warn("failed to publish retry signal",
				"run_id", entry.RunID,
				"node_id", entry.NodeID,
				"error", err,
			)
		}
	}
}

// failNode окончательно проваливает попытку узла.
func (o *Orchestrator) failNode(tx *runTx, exec *domain.NodeExecution, reason string) {
	now := o.clock.Now()
	exec.Status = domain.NodeStatusFailed
	exec.Retryable = false
	exec.LastError = reason
	exec.FinishedAt = &now
	exec.UpdatedAt = now
	tx.run.SetExecution(exec)

	tx.emit(domain.NodeFailed{
		NodeID:    exec.NodeID,
		Attempt:   exec.Attempt,
		Error:     reason,
		Retryable: false,
	})
	o.logger.Warn("node failed",
		"run_id", tx.run.ID,
		"node_id", exec.NodeID,
		"attempt", exec.Attempt,
		"error", reason,
	)
}

// criticalFailure возвращает окончательно проваленный критичный узел.
func criticalFailure(tx *runTx) (string, *domain.NodeExecution) {
	for i := range tx.def.Nodes {
		nd := &tx.def.Nodes[i]
		if !nd.Critical {
			continue
		}
		exec := tx.run.Execution(nd.ID)
		if exec != nil && exec.Status == domain.NodeStatusFailed && !exec.Retryable {
			return nd.ID, exec
		}
	}
	return "", nil
}

// failedNodes — окончательно проваленные узлы по ID.
func failedNodes(run *domain.WorkflowRun) []string {
	var ids []string
	for id, exec := range run.NodeExecutions {
		if exec.Status == domain.NodeStatusFailed && !exec.Retryable {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
