package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/dagflow/internal/domain"
)

func TestValidateDefinition_EmptyNodes(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.WorkflowDefinition
	}{
		{"nil definition", nil},
		{"empty nodes", &domain.WorkflowDefinition{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateDefinition(tt.def); !errors.Is(err, ErrEmptyNodes) {
				t.Errorf("expected ErrEmptyNodes, got %v", err)
			}
		})
	}
}

func TestValidateDefinition_NodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		nodes []domain.NodeDefinition
		want  error
	}{
		{
			name:  "empty id",
			nodes: []domain.NodeDefinition{{ExecutorType: "x"}},
			want:  ErrEmptyNodeID,
		},
		{
			name:  "colon in id",
			nodes: []domain.NodeDefinition{{ID: "a:b", ExecutorType: "x"}},
			want:  ErrInvalidNodeID,
		},
		{
			name:  "duplicate id",
			nodes: []domain.NodeDefinition{{ID: "a", ExecutorType: "x"}, {ID: "a", ExecutorType: "x"}},
			want:  ErrDuplicateNodeID,
		},
		{
			name:  "empty executor type",
			nodes: []domain.NodeDefinition{{ID: "a"}},
			want:  ErrEmptyExecutorType,
		},
		{
			name:  "unknown communication type",
			nodes: []domain.NodeDefinition{{ID: "a", ExecutorType: "x", CommunicationType: "CARRIER_PIGEON"}},
			want:  ErrUnknownCommunicationType,
		},
		{
			name:  "zero max attempts",
			nodes: []domain.NodeDefinition{{ID: "a", ExecutorType: "x", RetryPolicy: &domain.RetryPolicy{MaxAttempts: 0}}},
			want:  ErrInvalidRetryPolicy,
		},
		{
			name: "max delay below initial",
			nodes: []domain.NodeDefinition{{ID: "a", ExecutorType: "x",
				RetryPolicy: &domain.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 500, MaxDelayMs: 100}}},
			want: ErrInvalidRetryPolicy,
		},
		{
			name:  "broken condition",
			nodes: []domain.NodeDefinition{{ID: "a", ExecutorType: "x", Condition: "eq .Vars.x ("}},
			want:  ErrTemplateParse,
		},
		{
			name:  "empty compensation handler",
			nodes: []domain.NodeDefinition{{ID: "a", ExecutorType: "x", Compensation: &domain.CompensationConfig{}}},
			want:  ErrInvalidCompensation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefinition(&domain.WorkflowDefinition{Nodes: tt.nodes})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateDefinition_CompensationPolicy(t *testing.T) {
	def := definition(node("a"))

	def.CompensationPolicy = &domain.CompensationPolicy{Enabled: true, Strategy: "RANDOM"}
	if err := ValidateDefinition(def); !errors.Is(err, ErrInvalidCompensation) {
		t.Errorf("expected ErrInvalidCompensation for unknown strategy, got %v", err)
	}

	def.CompensationPolicy = &domain.CompensationPolicy{Enabled: true, Strategy: domain.CompensationCustom}
	if err := ValidateDefinition(def); !errors.Is(err, ErrInvalidCompensation) {
		t.Errorf("expected ErrInvalidCompensation for unnamed custom strategy, got %v", err)
	}

	def.CompensationPolicy.CustomStrategy = "stages"
	if err := ValidateDefinition(def); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateDefinition_AcceptsDanglingAndCycles(t *testing.T) {
	def := definition(node("a", "b"), node("b", "a"), node("c", "ghost"))

	if err := ValidateDefinition(def); err != nil {
		t.Errorf("graph problems must not be rejected at load: %v", err)
	}
}

func TestParseDefinition_JSON(t *testing.T) {
	data := []byte(`{
		"name": "orders",
		"version": 2,
		"nodes": [
			{"id": "reserve", "type": "http", "executor_type": "inventory", "communication_type": "REST",
			 "compensation": {"handler": "http", "config": {"url": "http://inventory/release"}}},
			{"id": "charge", "type": "http", "executor_type": "payments", "depends_on": ["reserve"],
			 "critical": true, "retry_policy": {"max_attempts": 5, "initial_delay_ms": 200, "max_delay_ms": 5000, "backoff_multiplier": 2}}
		],
		"compensation_policy": {"enabled": true, "strategy": "SEQUENTIAL"}
	}`)

	def, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.Name != "orders" || def.Version != 2 || len(def.Nodes) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}

	charge, ok := def.Node("charge")
	if !ok {
		t.Fatal("charge node missing")
	}
	if !charge.Critical || charge.RetryPolicy == nil || charge.RetryPolicy.MaxAttempts != 5 {
		t.Errorf("charge node parsed incorrectly: %+v", charge)
	}

	reserve, _ := def.Node("reserve")
	if reserve.CommunicationType != domain.CommunicationREST || reserve.Compensation.Handler != "http" {
		t.Errorf("reserve node parsed incorrectly: %+v", reserve)
	}
}

func TestParseDefinition_YAML(t *testing.T) {
	data := []byte(`
name: nightly
nodes:
  - id: extract
    type: http
    executor_type: etl
    config:
      url: "https://{{ .Vars.host }}/dump"
  - id: load
    type: transform
    executor_type: etl
    depends_on: [extract]
    timeout_sec: 30
default_retry_policy:
  max_attempts: 2
  initial_delay_ms: 100
  max_delay_ms: 1000
  backoff_multiplier: 3
`)

	def, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	load, _ := def.Node("load")
	if load.TimeoutSec != 30 || len(load.DependsOn) != 1 || load.DependsOn[0] != "extract" {
		t.Errorf("load node parsed incorrectly: %+v", load)
	}
	if def.DefaultRetryPolicy == nil || def.DefaultRetryPolicy.BackoffMultiplier != 3 {
		t.Errorf("default retry policy parsed incorrectly: %+v", def.DefaultRetryPolicy)
	}

	extract, _ := def.Node("extract")
	if extract.Config["url"] != "https://{{ .Vars.host }}/dump" {
		t.Errorf("config must be kept unrendered: %v", extract.Config)
	}
}

func TestParseDefinition_Invalid(t *testing.T) {
	if _, err := ParseDefinition([]byte("   ")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for empty input, got %v", err)
	}
	if _, err := ParseDefinition([]byte(`{"nodes": [`)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for broken JSON, got %v", err)
	}
	if _, err := ParseDefinition([]byte(`{"name": "x", "nodes": []}`)); !errors.Is(err, ErrEmptyNodes) {
		t.Errorf("expected ErrEmptyNodes, got %v", err)
	}
}

func TestAnalyzeDefinition(t *testing.T) {
	def := definition(node("a", "b"), node("b", "a"), node("c", "ghost"))
	def.Nodes[2].Transitions = []domain.Transition{{To: "nowhere"}}

	warnings := AnalyzeDefinition(def)

	found := map[error]int{}
	for _, w := range warnings {
		found[w.Err]++
	}

	if found[ErrMissingDependency] != 1 {
		t.Errorf("expected one missing dependency warning, got %d", found[ErrMissingDependency])
	}
	if found[ErrCyclicDependency] != 1 {
		t.Errorf("expected one cycle warning, got %d", found[ErrCyclicDependency])
	}
	if found[ErrUnknownTransition] != 1 {
		t.Errorf("expected one unknown transition warning, got %d", found[ErrUnknownTransition])
	}

	if got := AnalyzeDefinition(definition(node("a"), node("b", "a"))); len(got) != 0 {
		t.Errorf("clean definition should have no warnings, got %v", got)
	}
}
