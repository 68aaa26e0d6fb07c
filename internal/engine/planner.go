package engine

import (
	"slices"
	"sort"

	"github.com/shaiso/dagflow/internal/domain"
)

// StuckReason — причина, по которой run не может продвинуться.
type StuckReason string

const (
	// StuckDanglingDependency — узел ссылается на несуществующий узел.
	StuckDanglingDependency StuckReason = "dangling_dependency"

	// StuckDependencyCycle — узлы зависят друг от друга по кругу.
	StuckDependencyCycle StuckReason = "dependency_cycle"
)

// ExecutionPlan — результат одного шага планирования.
type ExecutionPlan struct {
	// ReadyNodes — узлы, готовые к отправке, по ID.
	ReadyNodes []string

	// IsComplete — все узлы определения в статусе COMPLETED.
	IsComplete bool

	// IsStuck — готовых узлов нет, и граф не позволяет продвинуться.
	IsStuck bool

	// StuckReason — причина застревания (только при IsStuck).
	StuckReason StuckReason

	// StuckNodes — узлы, из-за которых run застрял.
	StuckNodes []string
}

// PlanNextExecution вычисляет следующий шаг выполнения run.
//
// Узел готов, если у него нет NodeExecution или он провален с Retryable,
// и все его зависимости в статусе COMPLETED.
//
// IsStuck выставляется, когда готовых узлов нет, run не завершён и
// хотя бы один незавершённый узел имеет висячую зависимость или лежит на цикле.
// Наличие узлов в полёте здесь не учитывается: решение о провале run
// принимает orchestrator.
func PlanNextExecution(run *domain.WorkflowRun, def *domain.WorkflowDefinition) ExecutionPlan {
	return PlanWithGraph(run, def, BuildGraph(def))
}

// PlanWithGraph — PlanNextExecution с заранее построенным графом.
func PlanWithGraph(run *domain.WorkflowRun, def *domain.WorkflowDefinition, dag *DAG) ExecutionPlan {
	plan := ExecutionPlan{ReadyNodes: []string{}}

	completed := func(id string) bool {
		exec := run.Execution(id)
		return exec != nil && exec.Status == domain.NodeStatusCompleted
	}

	plan.IsComplete = true
	for i := range def.Nodes {
		nd := &def.Nodes[i]
		if !completed(nd.ID) {
			plan.IsComplete = false
		}

		exec := run.Execution(nd.ID)
		if exec != nil && !exec.IsReadyForRetry() {
			continue
		}

		ready := true
		for _, dep := range nd.DependsOn {
			if !completed(dep) {
				ready = false
				break
			}
		}
		if ready {
			plan.ReadyNodes = append(plan.ReadyNodes, nd.ID)
		}
	}
	sort.Strings(plan.ReadyNodes)
	plan.ReadyNodes = slices.Compact(plan.ReadyNodes)

	if len(plan.ReadyNodes) > 0 || plan.IsComplete {
		return plan
	}

	for id := range dag.Dangling {
		if !completed(id) {
			plan.StuckNodes = append(plan.StuckNodes, id)
		}
	}
	if len(plan.StuckNodes) > 0 {
		sort.Strings(plan.StuckNodes)
		plan.IsStuck = true
		plan.StuckReason = StuckDanglingDependency
		return plan
	}

	for _, id := range dag.Blocked {
		if !completed(id) {
			plan.StuckNodes = append(plan.StuckNodes, id)
		}
	}
	if len(plan.StuckNodes) > 0 {
		plan.IsStuck = true
		plan.StuckReason = StuckDependencyCycle
	}

	return plan
}
