package engine

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// ParseDefinition разбирает определение из JSON или YAML.
//
// Формат определяется по первому непробельному символу: '{' — JSON,
// иначе YAML. Результат проходит ValidateDefinition.
func ParseDefinition(data []byte) (*domain.WorkflowDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrUnsupportedFormat)
	}

	var def domain.WorkflowDefinition
	if trimmed[0] == '{' {
		if err := xjson.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrUnsupportedFormat, err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrUnsupportedFormat, err)
		}
	}

	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateDefinition проверяет структуру определения.
//
// Проверяет:
// - Наличие узлов
// - Уникальность и формат ID узлов
// - Наличие executor_type
// - Известный communication_type
// - Корректность retry политик
// - Синтаксис условий
// - Политику компенсации
//
// Висячие ссылки и циклы не проверяются: они проявляются при выполнении
// как застревание run (см. AnalyzeDefinition).
func ValidateDefinition(def *domain.WorkflowDefinition) error {
	if def == nil || len(def.Nodes) == 0 {
		return ErrEmptyNodes
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		if err := ValidateNode(&def.Nodes[i], nodeIDs); err != nil {
			return err
		}
	}

	if def.DefaultRetryPolicy != nil {
		if err := validateRetryPolicy("", def.DefaultRetryPolicy); err != nil {
			return err
		}
	}

	return validateCompensationPolicy(def.CompensationPolicy)
}

// ValidateNode валидирует один узел.
// nodeIDs — уже встреченные ID узлов (для проверки уникальности).
func ValidateNode(node *domain.NodeDefinition, nodeIDs map[string]bool) error {
	if node.ID == "" {
		return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
	}

	if strings.ContainsAny(node.ID, ": \t\n") {
		return NewValidationError(node.ID, "id",
			fmt.Sprintf("node ID %q must not contain ':' or whitespace", node.ID), ErrInvalidNodeID)
	}

	if nodeIDs[node.ID] {
		return NewValidationError(node.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
	}
	nodeIDs[node.ID] = true

	if node.ExecutorType == "" {
		return NewValidationError(node.ID, "executor_type",
			"node has empty executor type", ErrEmptyExecutorType)
	}

	if !node.CommunicationType.Valid() {
		return NewValidationError(node.ID, "communication_type",
			fmt.Sprintf("unknown communication type: %s", node.CommunicationType), ErrUnknownCommunicationType)
	}

	if node.RetryPolicy != nil {
		if err := validateRetryPolicy(node.ID, node.RetryPolicy); err != nil {
			return err
		}
	}

	if node.Condition != "" {
		if err := validateCondition(node.Condition); err != nil {
			return NewValidationError(node.ID, "condition", err.Error(), ErrTemplateParse)
		}
	}

	if node.Compensation != nil && node.Compensation.Handler == "" {
		return NewValidationError(node.ID, "compensation",
			"compensation handler is empty", ErrInvalidCompensation)
	}

	if node.TimeoutSec < 0 {
		return NewValidationError(node.ID, "timeout_sec",
			"timeout must not be negative", ErrInvalidRetryPolicy)
	}

	return nil
}

// validateRetryPolicy проверяет параметры retry.
func validateRetryPolicy(nodeID string, p *domain.RetryPolicy) error {
	switch {
	case p.MaxAttempts < 1:
		return NewValidationError(nodeID, "retry_policy.max_attempts",
			"max_attempts must be at least 1", ErrInvalidRetryPolicy)
	case p.InitialDelayMs < 0:
		return NewValidationError(nodeID, "retry_policy.initial_delay_ms",
			"initial_delay_ms must not be negative", ErrInvalidRetryPolicy)
	case p.MaxDelayMs < 0:
		return NewValidationError(nodeID, "retry_policy.max_delay_ms",
			"max_delay_ms must not be negative", ErrInvalidRetryPolicy)
	case p.MaxDelayMs > 0 && p.MaxDelayMs < p.InitialDelayMs:
		return NewValidationError(nodeID, "retry_policy.max_delay_ms",
			"max_delay_ms must not be less than initial_delay_ms", ErrInvalidRetryPolicy)
	case p.BackoffMultiplier != 0 && p.BackoffMultiplier < 1:
		return NewValidationError(nodeID, "retry_policy.backoff_multiplier",
			"backoff_multiplier must be at least 1", ErrInvalidRetryPolicy)
	}
	return nil
}

// validateCompensationPolicy проверяет стратегию компенсации.
func validateCompensationPolicy(p *domain.CompensationPolicy) error {
	if p == nil {
		return nil
	}
	switch p.Strategy {
	case "", domain.CompensationSequential, domain.CompensationParallel:
		return nil
	case domain.CompensationCustom:
		if p.CustomStrategy == "" {
			return NewValidationError("", "compensation_policy.custom_strategy",
				"custom strategy name is required", ErrInvalidCompensation)
		}
		return nil
	default:
		return NewValidationError("", "compensation_policy.strategy",
			fmt.Sprintf("unknown compensation strategy: %s", p.Strategy), ErrInvalidCompensation)
	}
}

// validateCondition проверяет, что условие парсится как выражение шаблона.
func validateCondition(condition string) error {
	_, err := template.New("").Funcs(templateFuncs).Parse(conditionTemplate(condition))
	return err
}

// Warning — замечание анализа графа.
type Warning struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// AnalyzeDefinition ищет висячие ссылки, циклы и переходы в никуда.
//
// Определение с предупреждениями публикуется, но run по нему застрянет.
func AnalyzeDefinition(def *domain.WorkflowDefinition) []Warning {
	dag := BuildGraph(def)
	warnings := make([]Warning, 0)

	for i := range def.Nodes {
		nd := &def.Nodes[i]
		for _, missing := range dag.Dangling[nd.ID] {
			warnings = append(warnings, Warning{
				NodeID:  nd.ID,
				Message: fmt.Sprintf("depends on unknown node: %s", missing),
				Err:     ErrMissingDependency,
			})
		}
		for _, tr := range nd.Transitions {
			if dag.GetNode(tr.To) == nil {
				warnings = append(warnings, Warning{
					NodeID:  nd.ID,
					Message: fmt.Sprintf("transition to unknown node: %s", tr.To),
					Err:     ErrUnknownTransition,
				})
			}
		}
	}

	if dag.HasCycle() {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("cyclic dependency among nodes: %s", strings.Join(dag.Blocked, ", ")),
			Err:     ErrCyclicDependency,
		})
	}

	return warnings
}
