package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/mq"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultPrefetch          = 5
)

// ResultPublisher отправляет результат задачи движку.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result domain.NodeResult) error
}

// HeartbeatFunc сообщает движку, что исполнитель жив.
type HeartbeatFunc func(ctx context.Context) error

// Worker — исполнитель задач поверх RabbitMQ.
//
// Worker — stateless компонент системы, который:
//   - Получает задачи из очереди tasks.<executor_type>
//   - Выполняет их через Runtime
//   - Отправляет результат в очередь engine.results
//   - Периодически отправляет heartbeat в реестр движка
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	conn      *mq.Connection
	publisher ResultPublisher
	runtime   *Runtime

	executorType string
	queue        string
	prefetch     int

	heartbeat         HeartbeatFunc
	heartbeatInterval time.Duration

	consumer *mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// MQ
	Conn      *mq.Connection
	Publisher ResultPublisher

	// Runtime (опционально; если nil — NewRuntime с реестром по умолчанию)
	Runtime *Runtime

	// ExecutorType — тип исполнителя, определяет очередь задач.
	ExecutorType string

	// Queue — очередь задач (если пусто — tasks.<executor_type>).
	Queue string

	// Prefetch — сколько задач брать одновременно (default: 5).
	Prefetch int

	// Heartbeat — опциональный heartbeat в реестр движка.
	Heartbeat         HeartbeatFunc
	HeartbeatInterval time.Duration // default: 10s

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	logger := telemetry.OrDefault(cfg.Logger).With("component", "worker")

	runtime := cfg.Runtime
	if runtime == nil {
		runtime = NewRuntime(RuntimeConfig{Logger: logger})
	}

	return &Worker{
		conn:              cfg.Conn,
		publisher:         cfg.Publisher,
		runtime:           runtime,
		executorType:      cfg.ExecutorType,
		queue:             cfg.Queue,
		prefetch:          prefetch,
		heartbeat:         cfg.Heartbeat,
		heartbeatInterval: interval,
		logger:            logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer очереди задач
//   - Heartbeat горутину (если задан Heartbeat)
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	queue := w.queue
	if queue == "" {
		declared, err := mq.DeclareTaskQueue(ctx, w.conn, w.executorType)
		if err != nil {
			cancel()
			return err
		}
		queue = string(declared)
	}

	w.logger.Info("starting worker",
		"executor_id", w.runtime.ExecutorID(),
		"executor_type", w.executorType,
		"queue", queue,
		"node_types", w.runtime.Registry().Types(),
	)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    queue,
		Handler:  w.handleTaskDispatch,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("task consumer error", "error", err)
		}
	}()

	if w.heartbeat != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.heartbeatLoop(ctx)
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// heartbeatLoop — цикл heartbeat.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	// Первый heartbeat сразу при старте
	w.beat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

// beat отправляет один heartbeat.
func (w *Worker) beat(ctx context.Context) {
	if err := w.heartbeat(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("heartbeat failed", "error", err)
	}
}
