package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Status Tests ---

func TestRunStatus_IsTerminal(t *testing.T) {
	terminal := map[RunStatus]bool{
		RunStatusCreated:   false,
		RunStatusRunning:   false,
		RunStatusSuspended: false,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
		RunStatusCancelled: true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestParseRunStatus(t *testing.T) {
	if s, ok := ParseRunStatus("SUSPENDED"); !ok || s != RunStatusSuspended {
		t.Errorf("expected SUSPENDED, got %q %v", s, ok)
	}
	if _, ok := ParseRunStatus("PAUSED"); ok {
		t.Error("PAUSED must not parse")
	}
}

// --- TaskID Tests ---

func TestTaskID_Parse(t *testing.T) {
	runID := uuid.New()
	id := TaskID(runID, "charge", 2)

	gotRun, gotNode, gotAttempt, err := ParseTaskID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRun != runID || gotNode != "charge" || gotAttempt != 2 {
		t.Errorf("unexpected parts: %s %s %d", gotRun, gotNode, gotAttempt)
	}
}

func TestTaskID_ParseInvalid(t *testing.T) {
	invalid := []string{
		"",
		"abc",
		uuid.NewString() + ":node",
		uuid.NewString() + ":node:zero",
		uuid.NewString() + "::1",
		uuid.NewString() + ":node:0",
		"not-a-uuid:node:1",
	}
	for _, id := range invalid {
		if _, _, _, err := ParseTaskID(id); !errors.Is(err, ErrInvalidTaskID) {
			t.Errorf("ParseTaskID(%q): expected ErrInvalidTaskID, got %v", id, err)
		}
	}
}

// --- ExecutorInfo Tests ---

func TestExecutorInfo_IsHealthy(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := ExecutorInfo{HeartbeatTimeout: 30 * time.Second, LastHeartbeat: now.Add(-29 * time.Second)}

	if !e.IsHealthy(now) {
		t.Error("expected healthy at 29s")
	}

	e.LastHeartbeat = now.Add(-30 * time.Second)
	if e.IsHealthy(now) {
		t.Error("expected unhealthy once age equals timeout")
	}
}

func TestExecutorInfo_Supports(t *testing.T) {
	e := ExecutorInfo{Type: "payments", CommunicationType: CommunicationGRPC}

	if !e.Supports("payments", "") {
		t.Error("empty communication type should match any")
	}
	if !e.Supports("payments", CommunicationGRPC) {
		t.Error("expected GRPC match")
	}
	if e.Supports("payments", CommunicationREST) {
		t.Error("REST must not match GRPC executor")
	}
	if e.Supports("email", "") {
		t.Error("different executor type must not match")
	}
}

// --- WorkflowRun Tests ---

func TestWorkflowRun_CompletedNodes(t *testing.T) {
	def := &WorkflowDefinition{ID: uuid.New(), TenantID: "acme", Version: 1}
	run := NewWorkflowRun(def, map[string]any{"x": 1}, time.Now())

	run.SetExecution(&NodeExecution{NodeID: "a", Status: NodeStatusCompleted})
	run.SetExecution(&NodeExecution{NodeID: "b", Status: NodeStatusCompleted, Skipped: true})
	run.SetExecution(&NodeExecution{NodeID: "c", Status: NodeStatusCompleted})
	run.SetExecution(&NodeExecution{NodeID: "d", Status: NodeStatusFailed})
	run.ExecutionPath = []string{"c", "b", "a"}

	got := run.CompletedNodes()
	if len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Errorf("expected [c a], got %v", got)
	}
}

func TestWorkflowRun_CloneIsIndependent(t *testing.T) {
	def := &WorkflowDefinition{ID: uuid.New(), TenantID: "acme", Version: 1}
	run := NewWorkflowRun(def, map[string]any{"x": 1}, time.Now())
	run.SetExecution(&NodeExecution{NodeID: "a", Status: NodeStatusRunning, Attempt: 1})
	run.ExecutionPath = []string{"a"}

	c := run.Clone()
	c.Variables["x"] = 2
	c.Execution("a").Status = NodeStatusCompleted
	c.ExecutionPath[0] = "z"

	if run.Variables["x"] != 1 {
		t.Error("variables leaked into original")
	}
	if run.Execution("a").Status != NodeStatusRunning {
		t.Error("node execution leaked into original")
	}
	if run.ExecutionPath[0] != "a" {
		t.Error("execution path leaked into original")
	}
}

func TestWorkflowDefinition_RetryPolicyFor(t *testing.T) {
	nodePolicy := &RetryPolicy{MaxAttempts: 5}
	defPolicy := &RetryPolicy{MaxAttempts: 2}

	def := &WorkflowDefinition{
		DefaultRetryPolicy: defPolicy,
		Nodes: []NodeDefinition{
			{ID: "own", RetryPolicy: nodePolicy},
			{ID: "inherit"},
		},
	}

	own, _ := def.Node("own")
	inherit, _ := def.Node("inherit")

	if got := def.RetryPolicyFor(own); got.MaxAttempts != 5 {
		t.Errorf("expected node policy, got %+v", got)
	}
	if got := def.RetryPolicyFor(inherit); got.MaxAttempts != 2 {
		t.Errorf("expected definition policy, got %+v", got)
	}

	def.DefaultRetryPolicy = nil
	if got := def.RetryPolicyFor(inherit); got != DefaultRetryPolicy {
		t.Errorf("expected default policy, got %+v", got)
	}
}

// --- CompensationState Tests ---

func TestCompensationState_Finish(t *testing.T) {
	now := time.Now()
	s := NewCompensationState(CompensationSequential, []string{"a", "b"}, now)

	s.MarkCompensated("b")
	s.MarkFailed("a", "boom", false)
	s.Finish(now)
	if s.Status != CompensationStatusFailed {
		t.Errorf("expected FAILED while nodes remain, got %s", s.Status)
	}

	s.MarkFailed("a", "boom", true)
	s.Finish(now)
	if s.Status != CompensationStatusCompleted {
		t.Errorf("expected COMPLETED once list is empty, got %s", s.Status)
	}
	if len(s.CompensatedNodes) != 1 || s.CompensatedNodes[0] != "b" {
		t.Errorf("unexpected compensated nodes: %v", s.CompensatedNodes)
	}
}
