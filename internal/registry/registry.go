package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/resilience"
	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/transport"
)

const defaultHeartbeatTimeout = 30 * time.Second

// Config — конфигурация Registry.
type Config struct {
	// Strategy — имя стратегии выбора (default: round_robin).
	Strategy string

	// Dispatcher — транспорт до исполнителей (обычно transport.Router).
	Dispatcher transport.Dispatcher

	// Resilience — retry/breaker/timeout для удалённых вызовов.
	// Если nil — resilience.New с настройками по умолчанию.
	Resilience *resilience.Executor

	// HeartbeatTimeout — таймаут по умолчанию для исполнителей без своего (default: 30s).
	HeartbeatTimeout time.Duration

	// EvictAfter — удалять исполнителей, молчащих дольше (0 — не удалять).
	EvictAfter time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Registry — реестр исполнителей.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]*domain.ExecutorInfo

	// selected — время последнего выбора по ID исполнителя (time.Time).
	// Хранится отдельно, чтобы выбор шёл под RLock.
	selected sync.Map
	// selectMu упорядочивает выборы стратегии, читающей LastSelectedAt.
	selectMu sync.Mutex

	strategy   Strategy
	dispatcher transport.Dispatcher
	resilience *resilience.Executor

	heartbeatTimeout time.Duration
	evictAfter       time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

// New создаёт Registry.
func New(cfg Config) (*Registry, error) {
	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	clk := clock.OrReal(cfg.Clock)
	logger := telemetry.OrDefault(cfg.Logger)

	res := cfg.Resilience
	if res == nil {
		res = resilience.New(resilience.Config{Clock: clk, Logger: logger})
	}

	timeout := cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = defaultHeartbeatTimeout
	}

	return &Registry{
		executors:        make(map[string]*domain.ExecutorInfo),
		strategy:         strategy,
		dispatcher:       cfg.Dispatcher,
		resilience:       res,
		heartbeatTimeout: timeout,
		evictAfter:       cfg.EvictAfter,
		clock:            clk,
		logger:           logger.With("component", "registry"),
	}, nil
}

// Strategy возвращает имя действующей стратегии.
func (r *Registry) Strategy() string {
	return r.strategy.Name()
}

// Register регистрирует исполнителя. Повторная регистрация обновляет данные
// и сохраняет RegisteredAt.
func (r *Registry) Register(info domain.ExecutorInfo) (domain.ExecutorInfo, error) {
	if info.ID == "" || info.Type == "" {
		return domain.ExecutorInfo{}, fmt.Errorf("%w: id and type are required", ErrInvalidExecutor)
	}
	if !info.CommunicationType.Valid() {
		return domain.ExecutorInfo{}, fmt.Errorf("%w: unknown communication type %q", ErrInvalidExecutor, info.CommunicationType)
	}

	now := r.clock.Now()
	if info.HeartbeatTimeout <= 0 {
		info.HeartbeatTimeout = r.heartbeatTimeout
	}
	info.LastHeartbeat = now
	info.Metadata = copyMetadata(info.Metadata)

	r.mu.Lock()
	if existing, ok := r.executors[info.ID]; ok {
		info.RegisteredAt = existing.RegisteredAt
	} else {
		info.RegisteredAt = now
	}
	stored := info
	r.executors[info.ID] = &stored
	r.mu.Unlock()

	r.logger.Info("executor registered",
		"executor_id", info.ID,
		"executor_type", info.Type,
		"communication_type", info.CommunicationType,
		"endpoint", info.Endpoint,
	)
	r.updateHealthMetric()

	return r.copyOf(&stored), nil
}

// Unregister удаляет исполнителя.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	_, ok := r.executors[id]
	delete(r.executors, id)
	r.mu.Unlock()
	r.selected.Delete(id)

	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutorNotFound, id)
	}

	r.resilience.Breakers().Remove(dispatchOperation(id))
	r.resilience.Breakers().Remove(probeOperation(id))

	r.logger.Info("executor unregistered", "executor_id", id)
	r.updateHealthMetric()
	return nil
}

// Heartbeat обновляет время последнего heartbeat.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.executors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutorNotFound, id)
	}
	info.LastHeartbeat = r.clock.Now()
	return nil
}

// Get возвращает копию исполнителя.
func (r *Registry) Get(id string) (domain.ExecutorInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.executors[id]
	if !ok {
		return domain.ExecutorInfo{}, fmt.Errorf("%w: %s", ErrExecutorNotFound, id)
	}
	return r.copyOf(info), nil
}

// List возвращает всех исполнителей, отсортированных по ID.
func (r *Registry) List() []domain.ExecutorInfo {
	return r.filter(func(*domain.ExecutorInfo) bool { return true })
}

// ListHealthy возвращает здоровых исполнителей, отсортированных по ID.
func (r *Registry) ListHealthy() []domain.ExecutorInfo {
	now := r.clock.Now()
	return r.filter(func(info *domain.ExecutorInfo) bool { return info.IsHealthy(now) })
}

// GetExecutorForNode выбирает здорового исполнителя нужного типа.
//
// Пустой comm подходит любому исполнителю. Реестр читается под RLock;
// выборы сериализуются только для least_recently_used.
func (r *Registry) GetExecutorForNode(executorType string, comm domain.CommunicationType) (domain.ExecutorInfo, error) {
	if r.strategy.Name() == StrategyLeastRecentlyUsed {
		r.selectMu.Lock()
		defer r.selectMu.Unlock()
	}

	now := r.clock.Now()
	candidates := r.filter(func(info *domain.ExecutorInfo) bool {
		return info.Supports(executorType, comm) && info.IsHealthy(now)
	})
	if len(candidates) == 0 {
		return domain.ExecutorInfo{}, fmt.Errorf("%w: type=%s communication=%s", ErrNoExecutorAvailable, executorType, comm)
	}

	chosen := r.strategy.Select(candidates)
	r.selected.Store(chosen.ID, now)
	chosen.LastSelectedAt = now
	return chosen, nil
}

// Dispatch отправляет задачу исполнителю через транспорт под защитой resilience.
func (r *Registry) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	if r.dispatcher == nil {
		return fmt.Errorf("%w: registry has no dispatcher", transport.ErrNoDispatcher)
	}

	ctx, span := telemetry.StartSpan(ctx, "registry.dispatch",
		attribute.String("task_id", task.ID),
		attribute.String("executor_id", executor.ID),
	)

	err := r.resilience.Execute(ctx, dispatchOperation(executor.ID), func(ctx context.Context) error {
		return r.dispatcher.Dispatch(ctx, task, executor)
	})
	telemetry.EndSpan(span, err)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	telemetry.DispatchTotal.WithLabelValues(outcome).Inc()

	return err
}

// Evict удаляет исполнителей, молчащих дольше EvictAfter.
// Возвращает количество удалённых.
func (r *Registry) Evict() int {
	if r.evictAfter <= 0 {
		return 0
	}

	now := r.clock.Now()
	var evicted []string

	r.mu.Lock()
	for id, info := range r.executors {
		if now.Sub(info.LastHeartbeat) > r.evictAfter {
			delete(r.executors, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.selected.Delete(id)
		r.resilience.Breakers().Remove(dispatchOperation(id))
		r.resilience.Breakers().Remove(probeOperation(id))
		r.logger.Info("executor evicted", "executor_id", id)
	}
	if len(evicted) > 0 {
		r.updateHealthMetric()
	}
	return len(evicted)
}

// updateHealthMetric пересчитывает gauge здоровых исполнителей по типам.
func (r *Registry) updateHealthMetric() {
	now := r.clock.Now()
	counts := make(map[string]int)
	for _, info := range r.List() {
		n := counts[info.Type]
		if info.IsHealthy(now) {
			n++
		}
		counts[info.Type] = n
	}
	for typ, n := range counts {
		telemetry.HealthyExecutors.WithLabelValues(typ).Set(float64(n))
	}
}

func (r *Registry) filter(keep func(*domain.ExecutorInfo) bool) []domain.ExecutorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.ExecutorInfo, 0, len(r.executors))
	for _, info := range r.executors {
		if keep(info) {
			result = append(result, r.copyOf(info))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// copyOf возвращает копию, не разделяющую Metadata с реестром.
func (r *Registry) copyOf(info *domain.ExecutorInfo) domain.ExecutorInfo {
	c := *info
	c.Metadata = copyMetadata(info.Metadata)
	if at, ok := r.selected.Load(info.ID); ok {
		c.LastSelectedAt = at.(time.Time)
	}
	return c
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func dispatchOperation(id string) string { return "dispatch:" + id }

func probeOperation(id string) string { return "probe:" + id }
