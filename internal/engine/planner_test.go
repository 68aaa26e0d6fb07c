package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
)

func newRun(def *domain.WorkflowDefinition) *domain.WorkflowRun {
	def.ID = uuid.New()
	return domain.NewWorkflowRun(def, nil, time.Now())
}

func complete(run *domain.WorkflowRun, ids ...string) {
	for _, id := range ids {
		run.SetExecution(&domain.NodeExecution{NodeID: id, Status: domain.NodeStatusCompleted, Attempt: 1})
		run.ExecutionPath = append(run.ExecutionPath, id)
	}
}

func TestPlanNextExecution_TwoNodeScenario(t *testing.T) {
	def := definition(node("node1"), node("node2", "node1"))
	run := newRun(def)

	plan := PlanNextExecution(run, def)
	if !reflect.DeepEqual(plan.ReadyNodes, []string{"node1"}) {
		t.Fatalf("initial plan: expected [node1], got %v", plan.ReadyNodes)
	}
	if plan.IsComplete || plan.IsStuck {
		t.Fatalf("initial plan must be neither complete nor stuck: %+v", plan)
	}

	complete(run, "node1")
	plan = PlanNextExecution(run, def)
	if !reflect.DeepEqual(plan.ReadyNodes, []string{"node2"}) {
		t.Fatalf("second plan: expected [node2], got %v", plan.ReadyNodes)
	}
	if plan.IsComplete {
		t.Fatal("second plan must not be complete")
	}

	complete(run, "node2")
	plan = PlanNextExecution(run, def)
	if len(plan.ReadyNodes) != 0 {
		t.Fatalf("final plan: expected no ready nodes, got %v", plan.ReadyNodes)
	}
	if !plan.IsComplete || plan.IsStuck {
		t.Fatalf("final plan must be complete and not stuck: %+v", plan)
	}
}

func TestPlanNextExecution_Terminates(t *testing.T) {
	// Для любого ациклического графа без висячих ссылок многократное
	// планирование с отметкой готовых узлов завершается.
	defs := []*domain.WorkflowDefinition{
		definition(node("A")),
		definition(node("A"), node("B", "A"), node("C", "A"), node("D", "B", "C")),
		definition(node("x"), node("y"), node("z", "x", "y"), node("w", "z"), node("v", "x")),
	}

	for _, def := range defs {
		run := newRun(def)
		for i := 0; i <= len(def.Nodes); i++ {
			plan := PlanNextExecution(run, def)
			if plan.IsStuck {
				t.Fatalf("acyclic definition reported stuck: %+v", plan)
			}
			if plan.IsComplete {
				break
			}
			if len(plan.ReadyNodes) == 0 {
				t.Fatalf("no progress possible at iteration %d", i)
			}
			complete(run, plan.ReadyNodes...)
		}

		if plan := PlanNextExecution(run, def); !plan.IsComplete {
			t.Errorf("definition %v did not complete", def.NodeIDs())
		}
	}
}

func TestPlanNextExecution_ParallelRoots(t *testing.T) {
	def := definition(node("c"), node("a"), node("b"))
	plan := PlanNextExecution(newRun(def), def)

	if !reflect.DeepEqual(plan.ReadyNodes, []string{"a", "b", "c"}) {
		t.Errorf("expected sorted ready set, got %v", plan.ReadyNodes)
	}
}

func TestPlanNextExecution_RunningNodeNotReady(t *testing.T) {
	def := definition(node("A"), node("B"))
	run := newRun(def)
	run.SetExecution(&domain.NodeExecution{NodeID: "A", Status: domain.NodeStatusRunning, Attempt: 1})
	run.SetExecution(&domain.NodeExecution{NodeID: "B", Status: domain.NodeStatusWaitingRetry, Attempt: 1})

	plan := PlanNextExecution(run, def)
	if len(plan.ReadyNodes) != 0 || plan.IsComplete || plan.IsStuck {
		t.Errorf("in-flight nodes must not be ready: %+v", plan)
	}
}

func TestPlanNextExecution_RetryableFailedIsReady(t *testing.T) {
	def := definition(node("A"), node("B"))
	run := newRun(def)
	run.SetExecution(&domain.NodeExecution{NodeID: "A", Status: domain.NodeStatusFailed, Retryable: true, Attempt: 1})
	run.SetExecution(&domain.NodeExecution{NodeID: "B", Status: domain.NodeStatusFailed, Attempt: 3})

	plan := PlanNextExecution(run, def)
	if !reflect.DeepEqual(plan.ReadyNodes, []string{"A"}) {
		t.Errorf("expected only retryable A ready, got %v", plan.ReadyNodes)
	}
}

func TestPlanNextExecution_PermanentFailureNotStuck(t *testing.T) {
	def := definition(node("A"), node("B", "A"))
	run := newRun(def)
	run.SetExecution(&domain.NodeExecution{NodeID: "A", Status: domain.NodeStatusFailed, Attempt: 3})

	plan := PlanNextExecution(run, def)
	if len(plan.ReadyNodes) != 0 || plan.IsComplete {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.IsStuck {
		t.Error("a failed dependency is a node failure, not a stuck graph")
	}
}

func TestPlanNextExecution_DanglingDependencyIsStuck(t *testing.T) {
	def := definition(node("A"), node("B", "A", "missing"))
	run := newRun(def)

	plan := PlanNextExecution(run, def)
	if !reflect.DeepEqual(plan.ReadyNodes, []string{"A"}) || plan.IsStuck {
		t.Fatalf("A should still be ready while progress is possible: %+v", plan)
	}

	complete(run, "A")
	plan = PlanNextExecution(run, def)
	if len(plan.ReadyNodes) != 0 {
		t.Fatalf("expected empty ready set, got %v", plan.ReadyNodes)
	}
	if !plan.IsStuck || plan.StuckReason != StuckDanglingDependency {
		t.Fatalf("expected stuck on dangling dependency, got %+v", plan)
	}
	if !reflect.DeepEqual(plan.StuckNodes, []string{"B"}) {
		t.Errorf("expected stuck node B, got %v", plan.StuckNodes)
	}
}

// Цикл зависимостей явно распознаётся как застревание, а не как
// бесконечно пустой план.
func TestPlanNextExecution_DependencyCycleIsStuck(t *testing.T) {
	def := definition(node("A", "B"), node("B", "A"))

	plan := PlanNextExecution(newRun(def), def)
	if len(plan.ReadyNodes) != 0 || plan.IsComplete {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if !plan.IsStuck {
		t.Fatal("dependency cycle must be reported as stuck")
	}
	if plan.StuckReason != StuckDependencyCycle {
		t.Errorf("expected reason %s, got %s", StuckDependencyCycle, plan.StuckReason)
	}
	if !reflect.DeepEqual(plan.StuckNodes, []string{"A", "B"}) {
		t.Errorf("unexpected stuck nodes: %v", plan.StuckNodes)
	}
}

func TestPlanNextExecution_CycleBehindProgress(t *testing.T) {
	def := definition(node("root"), node("A", "root", "B"), node("B", "A"))
	run := newRun(def)

	plan := PlanNextExecution(run, def)
	if !reflect.DeepEqual(plan.ReadyNodes, []string{"root"}) || plan.IsStuck {
		t.Fatalf("root should be ready before the cycle is reached: %+v", plan)
	}

	complete(run, "root")
	plan = PlanNextExecution(run, def)
	if !plan.IsStuck || plan.StuckReason != StuckDependencyCycle {
		t.Errorf("expected cycle stuck after root, got %+v", plan)
	}
}

func TestPlanNextExecution_Deterministic(t *testing.T) {
	def := definition(node("a"), node("b"), node("c", "a"), node("d", "b"))
	run := newRun(def)
	complete(run, "a", "b")

	first := PlanNextExecution(run, def)
	for i := 0; i < 20; i++ {
		if got := PlanNextExecution(run, def); !reflect.DeepEqual(got, first) {
			t.Fatalf("plan differs between calls: %+v vs %+v", got, first)
		}
	}
}
