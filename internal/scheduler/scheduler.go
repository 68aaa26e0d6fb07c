package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultSweepInterval   = 5 * time.Second
	defaultCleanupInterval = time.Minute
	defaultRetention       = time.Hour
	defaultSweepBatch      = 100
)

// ExecutorRegistry — то, что планировщику нужно от реестра исполнителей.
type ExecutorRegistry interface {
	GetExecutorForNode(executorType string, comm domain.CommunicationType) (domain.ExecutorInfo, error)
	Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error
}

// RetryTrigger запускает наступивший повтор узла.
// Реализуется оркестратором (RetryNode).
type RetryTrigger func(ctx context.Context, entry domain.RetryEntry) error

// OutcomeStatus — исход ScheduleTask.
type OutcomeStatus string

// Исходы отправки.
const (
	OutcomeDispatched     OutcomeStatus = "DISPATCHED"
	OutcomeRetryScheduled OutcomeStatus = "RETRY_SCHEDULED"
	OutcomeDeadLettered   OutcomeStatus = "DEAD_LETTERED"
)

// DispatchOutcome — результат ScheduleTask.
type DispatchOutcome struct {
	Status     OutcomeStatus
	ExecutorID string

	// Retry — запись повтора для OutcomeRetryScheduled.
	Retry *domain.RetryEntry

	// Reason — причина неудачной отправки.
	Reason string
}

// Config — конфигурация Scheduler.
type Config struct {
	Registry ExecutorRegistry
	Queue    RetryQueue // default: NewMemoryRetryQueue()

	// SweepInterval — период разбора очереди retry (default: 5s).
	SweepInterval time.Duration

	// SweepBatch — сколько записей забирать за один проход (default: 100).
	SweepBatch int

	// CleanupInterval — период удаления терминальных задач (default: 1m).
	CleanupInterval time.Duration

	// Retention — сколько хранить терминальные задачи (default: 1h).
	Retention time.Duration

	// DispatchRate — отправок в секунду (0 — без ограничения).
	DispatchRate  float64
	DispatchBurst int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Scheduler отправляет задачи исполнителям и управляет отложенными повторами.
type Scheduler struct {
	registry ExecutorRegistry
	queue    RetryQueue
	limiter  *rate.Limiter

	mu    sync.RWMutex
	tasks map[string]*domain.ScheduledTask

	triggerMu sync.RWMutex
	trigger   RetryTrigger

	sweepInterval   time.Duration
	sweepBatch      int
	cleanupInterval time.Duration
	retention       time.Duration

	cron   *cron.Cron
	clock  clock.Clock
	logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	queue := cfg.Queue
	if queue == nil {
		queue = NewMemoryRetryQueue()
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	sweepBatch := cfg.SweepBatch
	if sweepBatch <= 0 {
		sweepBatch = defaultSweepBatch
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	limit := rate.Inf
	burst := cfg.DispatchBurst
	if cfg.DispatchRate > 0 {
		limit = rate.Limit(cfg.DispatchRate)
		if burst <= 0 {
			burst = 1
		}
	}

	return &Scheduler{
		registry:        cfg.Registry,
		queue:           queue,
		limiter:         rate.NewLimiter(limit, burst),
		tasks:           make(map[string]*domain.ScheduledTask),
		sweepInterval:   sweepInterval,
		sweepBatch:      sweepBatch,
		cleanupInterval: cleanupInterval,
		retention:       retention,
		clock:           clock.OrReal(cfg.Clock),
		logger:          telemetry.OrDefault(cfg.Logger).With("component", "scheduler"),
	}
}

// SetTrigger задаёт обработчик наступивших повторов.
func (s *Scheduler) SetTrigger(trigger RetryTrigger) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()
	s.trigger = trigger
}

// ScheduleTask отправляет задачу исполнителю.
//
// При отсутствии исполнителя, ошибке отправки или истечении ctx
// в ожидании лимита задача становится FAILED: если политика позволяет,
// ставится отложенный повтор, иначе задача уходит в dead letter.
// Ошибка возвращается только при проблемах самого планировщика
// (живая задача с тем же ID, очередь повторов).
func (s *Scheduler) ScheduleTask(ctx context.Context, task *domain.ScheduledTask) (DispatchOutcome, error) {
	if err := s.track(task); err != nil {
		return DispatchOutcome{}, err
	}

	logger := s.logger.With("task_id", task.ID, "run_id", task.RunID, "node_id", task.NodeID)

	if err := s.limiter.Wait(ctx); err != nil {
		logger.Warn("dispatch rate limit wait failed", "error", err)
		return s.failDispatch(ctx, task, fmt.Errorf("dispatch rate limit: %w", err))
	}

	executor, err := s.registry.GetExecutorForNode(task.ExecutorType, task.CommunicationType)
	if err != nil {
		logger.Warn("no executor for task", "executor_type", task.ExecutorType, "error", err)
		return s.failDispatch(ctx, task, err)
	}

	if err := s.registry.Dispatch(ctx, s.snapshot(task.ID, task), executor); err != nil {
		logger.Warn("dispatch failed", "executor_id", executor.ID, "error", err)
		return s.failDispatch(ctx, task, err)
	}

	if !s.setStatus(task.ID, domain.TaskStatusRunning, executor.ID, "") {
		// Задачу отменили, пока она отправлялась
		logger.Debug("task cancelled during dispatch")
	}
	logger.Debug("task dispatched", "executor_id", executor.ID)

	return DispatchOutcome{Status: OutcomeDispatched, ExecutorID: executor.ID}, nil
}

// failDispatch обрабатывает неудачную отправку.
func (s *Scheduler) failDispatch(ctx context.Context, task *domain.ScheduledTask, cause error) (DispatchOutcome, error) {
	reason := cause.Error()
	s.setStatus(task.ID, domain.TaskStatusFailed, "", reason)

	if !task.RetryPolicy.ShouldRetry(task.Attempt) {
		telemetry.DeadLetters.Inc()
		s.logger.Warn("task dead-lettered",
			"task_id", task.ID,
			"run_id", task.RunID,
			"attempt", task.Attempt,
			"reason", reason,
		)
		return DispatchOutcome{Status: OutcomeDeadLettered, Reason: reason}, nil
	}

	entry, err := s.ScheduleRetry(context.WithoutCancel(ctx), task, reason)
	if err != nil {
		return DispatchOutcome{}, err
	}
	return DispatchOutcome{Status: OutcomeRetryScheduled, Retry: &entry, Reason: reason}, nil
}

// ScheduleRetry ставит отложенный повтор узла после неудачной попытки task.Attempt.
//
// executeAt = now + CalculateDelay(task.Attempt).
func (s *Scheduler) ScheduleRetry(ctx context.Context, task *domain.ScheduledTask, reason string) (domain.RetryEntry, error) {
	delay := task.RetryPolicy.CalculateDelay(task.Attempt)
	entry := domain.RetryEntry{
		RunID:     task.RunID,
		TenantID:  task.TenantID,
		NodeID:    task.NodeID,
		Attempt:   task.Attempt + 1,
		ExecuteAt: s.clock.Now().Add(delay),
		Reason:    reason,
	}

	if err := s.queue.Schedule(ctx, entry); err != nil {
		return domain.RetryEntry{}, fmt.Errorf("schedule retry %s: %w", entry.Key(), err)
	}

	telemetry.RetriesScheduled.Inc()
	s.logger.Info("retry scheduled",
		"run_id", entry.RunID,
		"node_id", entry.NodeID,
		"attempt", entry.Attempt,
		"delay", delay,
	)
	return entry, nil
}

// CompleteTask отмечает задачу завершённой по результату исполнителя.
//
// Возвращает ErrTaskNotFound, если задача не отслеживается, и false,
// если задача уже в терминальном статусе (например, CANCELLED).
func (s *Scheduler) CompleteTask(taskID string, success bool, lastError string) (bool, error) {
	status := domain.TaskStatusCompleted
	if !success {
		status = domain.TaskStatusFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() {
		return false, nil
	}
	task.Status = status
	task.LastError = lastError
	task.UpdatedAt = s.clock.Now()
	return true, nil
}

// CancelTask отменяет нетерминальную задачу. Возвращает false,
// если задача уже терминальна или не отслеживается.
func (s *Scheduler) CancelTask(taskID string) bool {
	return s.setStatus(taskID, domain.TaskStatusCancelled, "", "")
}

// Task возвращает копию отслеживаемой задачи.
func (s *Scheduler) Task(taskID string) (domain.ScheduledTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return domain.ScheduledTask{}, false
	}
	return *task, true
}

// TasksForRun возвращает копии задач run'а.
func (s *Scheduler) TasksForRun(runID uuid.UUID) []domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.ScheduledTask
	for _, task := range s.tasks {
		if task.RunID == runID {
			result = append(result, *task)
		}
	}
	return result
}

// CancelTasksForRun отменяет нетерминальные задачи run'а и удаляет его повторы.
//
// Удалённые вызовы не прерываются: их результаты будут отброшены.
func (s *Scheduler) CancelTasksForRun(ctx context.Context, runID uuid.UUID) (int, error) {
	now := s.clock.Now()

	cancelled := 0
	s.mu.Lock()
	for _, task := range s.tasks {
		if task.RunID == runID && !task.Status.IsTerminal() {
			task.Status = domain.TaskStatusCancelled
			task.UpdatedAt = now
			cancelled++
		}
	}
	s.mu.Unlock()

	removed, err := s.queue.RemoveRun(ctx, runID)
	if err != nil {
		return cancelled, fmt.Errorf("remove retries of run %s: %w", runID, err)
	}

	if cancelled > 0 || removed > 0 {
		s.logger.Info("tasks cancelled for run",
			"run_id", runID,
			"cancelled", cancelled,
			"retries_removed", removed,
		)
	}
	return cancelled, nil
}

// Sweep забирает наступившие повторы и передаёт их RetryTrigger.
//
// Если trigger вернул ошибку, запись возвращается в очередь.
// Возвращает количество успешно запущенных повторов.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	s.triggerMu.RLock()
	trigger := s.trigger
	s.triggerMu.RUnlock()
	if trigger == nil {
		return 0, ErrNoTrigger
	}

	start := time.Now()
	defer func() {
		telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := s.queue.PopDue(ctx, s.clock.Now(), s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("pop due retries: %w", err)
	}

	triggered := 0
	for _, entry := range due {
		if err := trigger(ctx, entry); err != nil {
			s.logger.Warn("retry trigger failed, re-enqueueing",
				"run_id", entry.RunID,
				"node_id", entry.NodeID,
				"attempt", entry.Attempt,
				"error", err,
			)
			if qErr := s.queue.Schedule(context.WithoutCancel(ctx), entry); qErr != nil {
				s.logger.Error("failed to re-enqueue retry", "key", entry.Key(), "error", qErr)
			}
			continue
		}
		triggered++
	}

	if n, err := s.queue.Len(ctx); err == nil {
		telemetry.RetryQueueDepth.Set(float64(n))
	}
	return triggered, nil
}

// Cleanup удаляет терминальные задачи старше окна хранения.
func (s *Scheduler) Cleanup() int {
	cutoff := s.clock.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if task.Status.IsTerminal() && task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// Start запускает периодические sweep и cleanup.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))

	if _, err := c.AddFunc(everySpec(s.sweepInterval), func() {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("retry sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}

	if _, err := c.AddFunc(everySpec(s.cleanupInterval), func() {
		if n := s.Cleanup(); n > 0 {
			s.logger.Debug("terminal tasks cleaned up", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("add cleanup job: %w", err)
	}

	s.cron = c
	c.Start()

	s.logger.Info("scheduler started",
		"sweep_interval", s.sweepInterval,
		"cleanup_interval", s.cleanupInterval,
		"retention", s.retention,
	)
	return nil
}

// Stop останавливает периодические задачи и ждёт выполняющиеся.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// everySpec — cron-спецификация "@every <d>".
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// track регистрирует задачу как PENDING.
func (s *Scheduler) track(task *domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[task.ID]; ok && !existing.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}

	now := s.clock.Now()
	t := *task
	t.Status = domain.TaskStatusPending
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now
	}
	t.UpdatedAt = now
	s.tasks[t.ID] = &t
	return nil
}

// snapshot возвращает копию отслеживаемой задачи для отправки.
func (s *Scheduler) snapshot(id string, fallback *domain.ScheduledTask) *domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tasks[id]; ok {
		c := *t
		return &c
	}
	return fallback
}

// setStatus меняет статус нетерминальной задачи. Возвращает false,
// если задача уже терминальна или не отслеживается.
func (s *Scheduler) setStatus(id string, status domain.TaskStatus, executorID, lastError string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status.IsTerminal() {
		return false
	}
	task.Status = status
	if executorID != "" {
		task.ExecutorID = executorID
	}
	task.LastError = lastError
	task.UpdatedAt = s.clock.Now()
	return true
}
