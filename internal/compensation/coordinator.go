package compensation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/engine"
	"github.com/shaiso/dagflow/internal/telemetry"
)

const defaultHandlerTimeout = 30 * time.Second

// Сообщения Result.
const (
	MessageNoCompensation = "No compensation needed"
	MessageNodeNotFound   = "node not found"
	MessageCompensated    = "compensated"
)

// Result — итог компенсации.
type Result struct {
	Success bool
	Message string

	// State — состояние компенсации run'а (nil, если компенсация не запускалась).
	State *domain.CompensationState
}

// Config — конфигурация Coordinator.
type Config struct {
	// Handlers — дополнительные обработчики поверх noop, log, http.
	Handlers map[string]Handler

	// Strategies — дополнительные стратегии CUSTOM поверх critical_first, forward.
	Strategies map[string]CustomStrategy

	// Parallelism — ограничение одновременных обработчиков для PARALLEL (0 — без ограничения).
	Parallelism int

	// DefaultTimeout — таймаут обработчика без своего (default: 30s).
	DefaultTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Coordinator выполняет компенсацию.
type Coordinator struct {
	handlers    map[string]Handler
	strategies  map[string]CustomStrategy
	parallelism int
	timeout     time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// New создаёт Coordinator. Реестры фиксируются при создании.
func New(cfg Config) *Coordinator {
	logger := telemetry.OrDefault(cfg.Logger).With("component", "compensation")

	handlers := defaultHandlers(logger)
	for name, h := range cfg.Handlers {
		handlers[name] = h
	}
	strategies := defaultStrategies()
	for name, s := range cfg.Strategies {
		strategies[name] = s
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}

	return &Coordinator{
		handlers:    handlers,
		strategies:  strategies,
		parallelism: cfg.Parallelism,
		timeout:     timeout,
		clock:       clock.OrReal(cfg.Clock),
		logger:      logger,
	}
}

// HasHandler проверяет, зарегистрирован ли обработчик.
func (c *Coordinator) HasHandler(name string) bool {
	_, ok := c.handlers[name]
	return ok
}

// NeedsCompensation — run FAILED и в нём есть хотя бы один завершённый узел.
func NeedsCompensation(run *domain.WorkflowRun) bool {
	return run.Status == domain.RunStatusFailed && run.HasCompletedNodes()
}

// Compensate откатывает завершённые узлы run'а по политике определения.
//
// Состояние компенсации записывается в run.Compensation.
func (c *Coordinator) Compensate(ctx context.Context, run *domain.WorkflowRun, def *domain.WorkflowDefinition) Result {
	policy := def.CompensationPolicy
	if policy == nil || !policy.Enabled {
		return Result{Success: true, Message: MessageNoCompensation}
	}

	strategy := policy.Strategy
	if strategy == "" {
		strategy = domain.CompensationSequential
	}

	nodes := run.CompletedNodes()
	state := domain.NewCompensationState(strategy, nodes, c.clock.Now())
	state.Status = domain.CompensationStatusRunning
	run.Compensation = state

	ctx, span := telemetry.StartSpan(ctx, "compensation.compensate",
		attribute.String("run_id", run.ID.String()),
		attribute.String("strategy", string(strategy)),
		attribute.Int("nodes", len(nodes)),
	)

	c.logger.Info("compensation started",
		"run_id", run.ID,
		"tenant_id", run.TenantID,
		"strategy", strategy,
		"nodes", nodes,
	)

	failFast := policy.FailOnCompensationError

	var mu sync.Mutex
	step := func(ctx context.Context, nodeID string) error {
		res := c.CompensateNode(ctx, run, def, nodeID)

		mu.Lock()
		defer mu.Unlock()
		if res.Success {
			state.MarkCompensated(nodeID)
			return nil
		}
		state.MarkFailed(nodeID, res.Message, !failFast)
		return fmt.Errorf("compensate %s: %s", nodeID, res.Message)
	}

	switch strategy {
	case domain.CompensationParallel:
		c.parallel(ctx, nodes, step)
	case domain.CompensationCustom:
		custom, ok := c.strategies[policy.CustomStrategy]
		if !ok {
			c.logger.Warn("unknown custom compensation strategy, falling back to sequential",
				"run_id", run.ID,
				"custom_strategy", policy.CustomStrategy,
			)
			reverseSequential(ctx, nodes, step, failFast)
		} else {
			custom(ctx, def, nodes, step, failFast)
		}
	default:
		reverseSequential(ctx, nodes, step, failFast)
	}

	state.Finish(c.clock.Now())

	result := Result{Success: state.Status == domain.CompensationStatusCompleted, State: state.Clone()}
	if result.Success {
		result.Message = fmt.Sprintf("compensated %d node(s)", len(state.CompensatedNodes))
		if len(state.FailedNodes) > 0 {
			result.Message += fmt.Sprintf(", %d handler error(s) ignored", len(state.FailedNodes))
		}
	} else {
		result.Message = "compensation failed: " + failedSummary(state.FailedNodes)
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	telemetry.CompensationsTotal.WithLabelValues(string(strategy), outcome).Inc()

	var spanErr error
	if !result.Success {
		spanErr = errors.New(result.Message)
	}
	telemetry.EndSpan(span, spanErr)

	c.logger.Info("compensation finished",
		"run_id", run.ID,
		"status", state.Status,
		"compensated", state.CompensatedNodes,
		"failed", len(state.FailedNodes),
	)

	return result
}

// parallel запускает обработчики всех узлов одновременно.
// Ошибки агрегируются в состоянии, остальные обработчики не прерываются.
func (c *Coordinator) parallel(ctx context.Context, nodes []string, step StepFunc) {
	var g errgroup.Group
	if c.parallelism > 0 {
		g.SetLimit(c.parallelism)
	}
	for _, id := range nodes {
		g.Go(func() error {
			step(ctx, id)
			return nil
		})
	}
	g.Wait()
}

// CompensateNode откатывает один узел.
func (c *Coordinator) CompensateNode(ctx context.Context, run *domain.WorkflowRun, def *domain.WorkflowDefinition, nodeID string) Result {
	node, ok := def.Node(nodeID)
	if !ok {
		return Result{Success: false, Message: MessageNodeNotFound}
	}
	if node.Compensation == nil || node.Compensation.Handler == "" {
		return Result{Success: true, Message: MessageNoCompensation}
	}

	handler, ok := c.handlers[node.Compensation.Handler]
	if !ok {
		return Result{Success: false, Message: unknownHandler(node.Compensation.Handler).Error()}
	}

	req := Request{
		RunID:    run.ID.String(),
		TenantID: run.TenantID,
		NodeID:   nodeID,
	}
	if exec := run.Execution(nodeID); exec != nil {
		req.Output = exec.Output
	}

	config, err := engine.RenderConfig(node.Compensation.Config, engine.NewContextFromRun(run))
	if err != nil {
		return Result{Success: false, Message: err.Error()}
	}
	req.Config = config

	timeout := c.handlerTimeout(node, def)
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := handler.Compensate(hctx, req); err != nil {
		if hctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("handler %s timed out after %s: %w", node.Compensation.Handler, timeout, err)
		}
		c.logger.Warn("node compensation failed",
			"run_id", run.ID,
			"node_id", nodeID,
			"handler", node.Compensation.Handler,
			"error", err,
		)
		return Result{Success: false, Message: err.Error()}
	}

	c.logger.Debug("node compensated", "run_id", run.ID, "node_id", nodeID, "handler", node.Compensation.Handler)
	return Result{Success: true, Message: MessageCompensated}
}

// handlerTimeout — таймаут узла, затем политики, затем по умолчанию.
func (c *Coordinator) handlerTimeout(node *domain.NodeDefinition, def *domain.WorkflowDefinition) time.Duration {
	if node.Compensation.TimeoutSec > 0 {
		return time.Duration(node.Compensation.TimeoutSec) * time.Second
	}
	if def.CompensationPolicy != nil && def.CompensationPolicy.TimeoutSec > 0 {
		return time.Duration(def.CompensationPolicy.TimeoutSec) * time.Second
	}
	return c.timeout
}

func failedSummary(failed map[string]string) string {
	parts := make([]string, 0, len(failed))
	for id, reason := range failed {
		parts = append(parts, id+": "+reason)
	}
	slices.Sort(parts)
	return strings.Join(parts, "; ")
}
