package compensation

import (
	"context"
	"slices"

	"github.com/shaiso/dagflow/internal/domain"
)

// StepFunc откатывает один узел и записывает итог в состояние.
// Возвращает ошибку обработчика.
type StepFunc func(ctx context.Context, nodeID string) error

// CustomStrategy — именованная стратегия для CUSTOM.
//
// nodes — завершённые узлы в порядке завершения. Стратегия решает,
// в каком порядке и какие узлы откатывать, вызывая step.
type CustomStrategy func(ctx context.Context, def *domain.WorkflowDefinition, nodes []string, step StepFunc, failFast bool)

// Встроенные стратегии CUSTOM.
const (
	StrategyCriticalFirst = "critical_first"
	StrategyForward       = "forward"
)

func defaultStrategies() map[string]CustomStrategy {
	return map[string]CustomStrategy{
		StrategyCriticalFirst: criticalFirst,
		StrategyForward:       forward,
	}
}

// reverseSequential откатывает узлы по одному в обратном порядке.
func reverseSequential(ctx context.Context, nodes []string, step StepFunc, failFast bool) {
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := step(ctx, nodes[i]); err != nil && failFast {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// criticalFirst откатывает сначала критичные узлы, затем остальные.
// Внутри каждой группы — обратный порядок завершения.
func criticalFirst(ctx context.Context, def *domain.WorkflowDefinition, nodes []string, step StepFunc, failFast bool) {
	var critical, rest []string
	for _, id := range nodes {
		if n, ok := def.Node(id); ok && n.Critical {
			critical = append(critical, id)
		} else {
			rest = append(rest, id)
		}
	}
	ordered := slices.Concat(rest, critical)
	reverseSequential(ctx, ordered, step, failFast)
}

// forward откатывает узлы в порядке завершения.
func forward(ctx context.Context, _ *domain.WorkflowDefinition, nodes []string, step StepFunc, failFast bool) {
	for _, id := range nodes {
		if err := step(ctx, id); err != nil && failFast {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
