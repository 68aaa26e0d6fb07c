package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/compensation"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/scheduler"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// Orchestrator — автомат состояний run.
//
// Orchestrator — центральный компонент системы, который:
//   - Создаёт runs и ведёт их историю
//   - Планирует и отправляет готовые узлы
//   - Обрабатывает результаты узлов и повторы
//   - Финализирует runs (COMPLETED/FAILED/CANCELLED)
type Orchestrator struct {
	runs        RunStore
	definitions DefinitionStore
	history     HistoryStore
	publisher   Publisher

	scheduler    *scheduler.Scheduler
	compensation *compensation.Coordinator

	locks     *runLocks
	txTimeout time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// defaultTxTimeout — предел времени одной транзакции run.
const defaultTxTimeout = 30 * time.Second

// Config — конфигурация Orchestrator.
type Config struct {
	// Persistence
	Runs        RunStore
	Definitions DefinitionStore
	History     HistoryStore

	// Publisher — внешняя рассылка событий (nil — не публиковать).
	Publisher Publisher

	// Scheduler — отправка задач и очередь повторов. Обязателен.
	Scheduler *scheduler.Scheduler

	// Compensation — координатор компенсации (default: встроенные обработчики).
	Compensation *compensation.Coordinator

	// TxTimeout — предел времени одной транзакции run, включая ожидание
	// лимита отправки (default: 30s). Отмена ctx вызывающего транзакцию не прерывает.
	TxTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// New создаёт Orchestrator и подключает его к scheduler как обработчик повторов.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runs == nil || cfg.Definitions == nil || cfg.History == nil {
		return nil, errors.New("orchestrator: run, definition and history stores are required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("orchestrator: scheduler is required")
	}

	logger := telemetry.OrDefault(cfg.Logger).With("component", "orchestrator")
	clk := clock.OrReal(cfg.Clock)

	comp := cfg.Compensation
	if comp == nil {
		comp = compensation.New(compensation.Config{Clock: clk, Logger: cfg.Logger})
	}

	txTimeout := cfg.TxTimeout
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}

	o := &Orchestrator{
		runs:         cfg.Runs,
		definitions:  cfg.Definitions,
		history:      cfg.History,
		publisher:    cfg.Publisher,
		scheduler:    cfg.Scheduler,
		compensation: comp,
		locks:        newRunLocks(),
		txTimeout:    txTimeout,
		clock:        clk,
		logger:       logger,
	}
	cfg.Scheduler.SetTrigger(o.RetryNode)
	return o, nil
}

// runTx — изменение одного run под его мьютексом.
type runTx struct {
	run    *domain.WorkflowRun
	def    *domain.WorkflowDefinition
	events []domain.ExecutionEvent
	dirty  bool
	clock  clock.Clock

	// committed выполняются после сохранения run, rollback — если run не сохранён.
	committed []func()
	rollback  []func()
}

// onCommit откладывает fn до успешного сохранения run.
func (tx *runTx) onCommit(fn func()) {
	tx.committed = append(tx.committed, fn)
}

// onRollback регистрирует отмену побочного эффекта, если run не будет сохранён.
func (tx *runTx) onRollback(fn func()) {
	tx.rollback = append(tx.rollback, fn)
}

func (tx *runTx) finalize(ok bool) {
	fns := tx.rollback
	if ok {
		fns = tx.committed
	}
	for _, fn := range fns {
		fn()
	}
}

// emit добавляет событие с очередным номером.
func (tx *runTx) emit(payload domain.EventPayload) {
	tx.run.LastEventSeq++
	ev := domain.NewEvent(tx.run.ID, tx.run.TenantID, tx.clock.Now(), payload)
	ev.Sequence = tx.run.LastEventSeq
	tx.events = append(tx.events, ev)
	tx.dirty = true
}

// touch отмечает изменение run без события.
func (tx *runTx) touch() {
	tx.dirty = true
}

// withRun загружает run, применяет fn и сохраняет результат.
//
// Порядок: load → fn → save → append history → publish → onCommit.
// Если fn ничего не изменил, сохранение пропускается.
// Если fn или сохранение вернули ошибку, выполняются onRollback.
//
// Транзакция не наследует отмену ctx: клиент, закрывший запрос,
// не должен оставить run наполовину спланированным.
func (o *Orchestrator) withRun(ctx context.Context, tenantID string, runID uuid.UUID, fn func(ctx context.Context, tx *runTx) error) (*domain.WorkflowRun, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.txTimeout)
	defer cancel()

	unlock := o.locks.lock(runID)
	defer unlock()

	run, err := o.loadRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	def, err := o.loadDefinition(ctx, run.DefinitionID, run.TenantID)
	if err != nil {
		return nil, err
	}

	prev := run.Clone()
	tx := &runTx{run: run, def: def, clock: o.clock}
	if err := fn(ctx, tx); err != nil {
		tx.finalize(false)
		return nil, err
	}
	if !tx.dirty {
		tx.finalize(true)
		return run, nil
	}

	if err := o.commit(ctx, tx, prev); err != nil {
		tx.finalize(false)
		return nil, err
	}
	tx.finalize(true)
	return run.Clone(), nil
}

// commit сохраняет run, дописывает историю и публикует события.
//
// Если история не записалась, run возвращается к prev: состояние
// без событий, которые к нему привели, не сохраняется.
func (o *Orchestrator) commit(ctx context.Context, tx *runTx, prev *domain.WorkflowRun) error {
	tx.run.UpdatedAt = o.clock.Now()

	if err := o.runs.Save(ctx, tx.run); err != nil {
		return fmt.Errorf("save run %s: %w", tx.run.ID, err)
	}
	if len(tx.events) == 0 {
		return nil
	}
	if err := o.history.Append(ctx, tx.run.ID, tx.events); err != nil {
		if prev != nil {
			if rerr := o.runs.Save(ctx, prev); rerr != nil {
				o.logger.Error("failed to restore run after history error",
					"run_id", tx.run.ID,
					"error", rerr,
				)
			}
		}
		return fmt.Errorf("append history of run %s: %w", tx.run.ID, err)
	}

	o.publish(ctx, tx.events)
	return nil
}

// publish рассылает события. Ошибка публикации не откатывает изменение.
func (o *Orchestrator) publish(ctx context.Context, events []domain.ExecutionEvent) {
	if o.publisher == nil || len(events) == 0 {
		return
	}
	if err := o.publisher.PublishEvents(ctx, events); err != nil {
		o.logger.Warn("failed to publish events",
			"run_id", events[0].RunID,
			"count", len(events),
			"error", err,
		)
	}
}

func (o *Orchestrator) loadRun(ctx context.Context, tenantID string, runID uuid.UUID) (*domain.WorkflowRun, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	run, err := o.runs.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (o *Orchestrator) loadDefinition(ctx context.Context, defID uuid.UUID, tenantID string) (*domain.WorkflowDefinition, error) {
	def, err := o.definitions.FindByID(ctx, defID, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, defID)
		}
		return nil, fmt.Errorf("find definition %s: %w", defID, err)
	}
	return def, nil
}

// CreateRun создаёт run в статусе CREATED и записывает RUN_CREATED.
func (o *Orchestrator) CreateRun(ctx context.Context, tenantID string, defID uuid.UUID, inputs map[string]any) (*domain.WorkflowRun, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	def, err := o.loadDefinition(ctx, defID, tenantID)
	if err != nil {
		return nil, err
	}

	run := domain.NewWorkflowRun(def, inputs, o.clock.Now())
	tx := &runTx{run: run, def: def, clock: o.clock}
	tx.emit(domain.RunCreated{
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Inputs:            inputs,
	})

	if err := o.commit(ctx, tx, nil); err != nil {
		return nil, err
	}

	o.logger.Info("run created",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"definition_id", def.ID,
		"definition_version", def.Version,
		"nodes", len(def.Nodes),
	)
	return run.Clone(), nil
}

// StartRun переводит run CREATED → RUNNING и запускает планирование.
func (o *Orchestrator) StartRun(ctx context.Context, tenantID string, runID uuid.UUID) (*domain.WorkflowRun, error) {
	return o.withRun(ctx, tenantID, runID, func(ctx context.Context, tx *runTx) error {
		if err := expectStatus(tx, domain.RunStatusCreated, domain.RunStatusRunning); err != nil {
			return err
		}
		if err := o.transition(tx, domain.RunStatusRunning); err != nil {
			return err
		}
		now := o.clock.Now()
		tx.run.StartedAt = &now
		tx.emit(domain.RunStarted{})
		telemetry.ActiveRuns.Inc()

		o.logger.Info("run started", "run_id", tx.run.ID, "tenant_id", tx.run.TenantID)
		return o.advance(ctx, tx)
	})
}

// SuspendRun приостанавливает run: новые узлы не отправляются,
// результаты узлов в полёте продолжают записываться.
func (o *Orchestrator) SuspendRun(ctx context.Context, tenantID string, runID uuid.UUID, reason string) (*domain.WorkflowRun, error) {
	return o.withRun(ctx, tenantID, runID, func(ctx context.Context, tx *runTx) error {
		if err := o.transition(tx, domain.RunStatusSuspended); err != nil {
			return err
		}
		tx.emit(domain.RunSuspended{Reason: reason})
		o.logger.Info("run suspended", "run_id", tx.run.ID, "reason", reason)
		return nil
	})
}

// ResumeRun возобновляет приостановленный run и перепланирует его.
func (o *Orchestrator) ResumeRun(ctx context.Context, tenantID string, runID uuid.UUID) (*domain.WorkflowRun, error) {
	return o.withRun(ctx, tenantID, runID, func(ctx context.Context, tx *runTx) error {
		if err := expectStatus(tx, domain.RunStatusSuspended, domain.RunStatusRunning); err != nil {
			return err
		}
		if err := o.transition(tx, domain.RunStatusRunning); err != nil {
			return err
		}
		tx.emit(domain.RunResumed{})
		o.logger.Info("run resumed", "run_id", tx.run.ID)
		return o.advance(ctx, tx)
	})
}

// CancelRun отменяет нетерминальный run.
func (o *Orchestrator) CancelRun(ctx context.Context, tenantID string, runID uuid.UUID, reason string) (*domain.WorkflowRun, error) {
	return o.withRun(ctx, tenantID, runID, func(ctx context.Context, tx *runTx) error {
		return o.finish(ctx, tx, domain.RunStatusCancelled, domain.RunCancelled{Reason: reason})
	})
}

// GetRun возвращает run tenant'а.
func (o *Orchestrator) GetRun(ctx context.Context, tenantID string, runID uuid.UUID) (*domain.WorkflowRun, error) {
	return o.loadRun(ctx, tenantID, runID)
}

// GetHistory возвращает историю run, упорядоченную по времени и номеру.
func (o *Orchestrator) GetHistory(ctx context.Context, tenantID string, runID uuid.UUID) (*domain.ExecutionHistory, error) {
	if _, err := o.loadRun(ctx, tenantID, runID); err != nil {
		return nil, err
	}
	events, err := o.history.Events(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load history of run %s: %w", runID, err)
	}
	h := &domain.ExecutionHistory{RunID: runID, Events: events}
	h.Sort()
	return h, nil
}

// transition меняет статус run после проверки по таблице.
func (o *Orchestrator) transition(tx *runTx, to domain.RunStatus) error {
	if err := ValidateTransition(tx.run.Status, to); err != nil {
		return err
	}
	tx.run.Status = to
	tx.touch()
	return nil
}

// expectStatus проверяет, что операция применяется к run в статусе want.
// StartRun и ResumeRun ведут в RUNNING из разных статусов.
func expectStatus(tx *runTx, want, to domain.RunStatus) error {
	if tx.run.Status == want {
		return nil
	}
	if err := ValidateTransition(tx.run.Status, to); err != nil {
		return err
	}
	return fmt.Errorf("%w: run is %s, expected %s", ErrInvalidTransition, tx.run.Status, want)
}

// finish переводит run в терминальный статус.
//
// Отменяет задачи run. Для FAILED сначала выполняется компенсация,
// и только затем записывается RUN_FAILED.
func (o *Orchestrator) finish(ctx context.Context, tx *runTx, to domain.RunStatus, payload domain.EventPayload) error {
	from := tx.run.Status
	if err := o.transition(tx, to); err != nil {
		return err
	}
	now := o.clock.Now()
	tx.run.FinishedAt = &now

	// Задачи отменяются после сохранения run
	runID := tx.run.ID
	tx.onCommit(func() {
		if _, err := o.scheduler.CancelTasksForRun(context.WithoutCancel(ctx), runID); err != nil {
			o.logger.Warn("failed to cancel tasks of run", "run_id", runID, "error", err)
		}
	})

	if failed, ok := payload.(domain.RunFailed); ok {
		tx.run.Error = failed.Reason
		if compensation.NeedsCompensation(tx.run) {
			failed.Compensated = o.compensate(ctx, tx)
		}
		payload = failed
	}
	if completed, ok := payload.(domain.RunCompleted); ok && tx.run.StartedAt != nil {
		completed.DurationMs = now.Sub(*tx.run.StartedAt).Milliseconds()
		payload = completed
	}
	tx.emit(payload)

	telemetry.RunsTotal.WithLabelValues(string(to)).Inc()
	if from == domain.RunStatusRunning || from == domain.RunStatusSuspended {
		telemetry.ActiveRuns.Dec()
	}

	o.logger.Info("run finished",
		"run_id", tx.run.ID,
		"tenant_id", tx.run.TenantID,
		"status", to,
		"error", tx.run.Error,
		"duration", tx.run.Duration(),
	)
	return nil
}

// compensate запускает координатор и записывает события компенсации.
// Возвращает true, если компенсация завершилась успешно.
func (o *Orchestrator) compensate(ctx context.Context, tx *runTx) bool {
	nodes := tx.run.CompletedNodes()
	res := o.compensation.Compensate(ctx, tx.run, tx.def)
	if res.State == nil {
		return false
	}

	tx.emit(domain.CompensationStarted{Strategy: res.State.Strategy, Nodes: nodes})
	for _, id := range res.State.CompensatedNodes {
		tx.emit(domain.NodeCompensated{NodeID: id})
	}
	for _, id := range sortedKeys(res.State.FailedNodes) {
		tx.emit(domain.NodeCompensationFailed{NodeID: id, Error: res.State.FailedNodes[id]})
	}

	if res.Success {
		tx.emit(domain.CompensationCompleted{CompensatedNodes: res.State.CompensatedNodes})
		return true
	}
	tx.emit(domain.CompensationFailed{FailedNodes: res.State.FailedNodes, Reason: res.Message})
	return false
}
