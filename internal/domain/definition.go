package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowDefinition — опубликованное определение рабочего процесса.
//
// Определение неизменяемо после публикации: новая версия — новая запись.
// Ищется по паре (ID, TenantID).
type WorkflowDefinition struct {
	// ID — уникальный идентификатор определения.
	ID uuid.UUID `json:"id" yaml:"id"`

	// TenantID — владелец определения.
	TenantID string `json:"tenant_id" yaml:"tenant_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version" yaml:"version"`

	// Name — человекочитаемое имя.
	Name string `json:"name" yaml:"name"`

	// Description — описание назначения workflow.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Nodes — узлы DAG в порядке объявления.
	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`

	// DefaultRetryPolicy — политика retry для узлов без собственной.
	DefaultRetryPolicy *RetryPolicy `json:"default_retry_policy,omitempty" yaml:"default_retry_policy,omitempty"`

	// CompensationPolicy — настройки saga-компенсации.
	CompensationPolicy *CompensationPolicy `json:"compensation_policy,omitempty" yaml:"compensation_policy,omitempty"`

	// CreatedAt — время публикации.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Node возвращает определение узла по ID.
func (d *WorkflowDefinition) Node(id string) (*NodeDefinition, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// NodeIDs возвращает ID всех узлов в порядке объявления.
func (d *WorkflowDefinition) NodeIDs() []string {
	ids := make([]string, len(d.Nodes))
	for i, n := range d.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// RetryPolicyFor возвращает действующую политику retry для узла:
// собственная политика узла, затем политика определения, затем DefaultRetryPolicy.
func (d *WorkflowDefinition) RetryPolicyFor(node *NodeDefinition) RetryPolicy {
	if node != nil && node.RetryPolicy != nil {
		return *node.RetryPolicy
	}
	if d.DefaultRetryPolicy != nil {
		return *d.DefaultRetryPolicy
	}
	return DefaultRetryPolicy
}

// NodeDefinition — узел DAG.
type NodeDefinition struct {
	// ID — уникальный в пределах определения идентификатор (без ':').
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type — тип работы: "http", "delay", "transform", "noop", ...
	Type string `json:"type" yaml:"type"`

	// ExecutorType — тип исполнителя, который выполняет узел.
	ExecutorType string `json:"executor_type" yaml:"executor_type"`

	// CommunicationType — требуемый транспорт. Пустое значение — любой.
	CommunicationType CommunicationType `json:"communication_type,omitempty" yaml:"communication_type,omitempty"`

	// DependsOn — ID узлов, которые должны завершиться до этого.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Transitions — исходящие переходы (информационно, для UI и анализа).
	Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`

	// Condition — шаблонное условие; false — узел пропускается.
	// Например: "{{ eq .Vars.env \"prod\" }}"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Config — параметры узла, передаются исполнителю после рендеринга шаблонов.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// RetryPolicy — собственная политика retry.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`

	// TimeoutSec — таймаут выполнения узла в секундах.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// Critical — провал узла сразу проваливает run.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`

	// Compensation — обработчик отката для узла.
	Compensation *CompensationConfig `json:"compensation,omitempty" yaml:"compensation,omitempty"`
}

// Timeout возвращает таймаут узла как time.Duration (0 — не задан).
func (n *NodeDefinition) Timeout() time.Duration {
	return time.Duration(n.TimeoutSec) * time.Second
}

// Transition — переход к следующему узлу.
type Transition struct {
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// CompensationConfig — обработчик компенсации узла.
type CompensationConfig struct {
	// Handler — имя обработчика в реестре: "noop", "log", "http".
	Handler string `json:"handler" yaml:"handler"`

	// Config — параметры обработчика.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// TimeoutSec — таймаут вызова обработчика.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}

// CompensationPolicy — политика компенсации определения.
type CompensationPolicy struct {
	// Enabled — включена ли компенсация.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Strategy — SEQUENTIAL (по умолчанию), PARALLEL или CUSTOM.
	Strategy CompensationStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// FailOnCompensationError — остановиться на первой ошибке обработчика.
	FailOnCompensationError bool `json:"fail_on_compensation_error,omitempty" yaml:"fail_on_compensation_error,omitempty"`

	// CustomStrategy — имя стратегии для CUSTOM.
	CustomStrategy string `json:"custom_strategy,omitempty" yaml:"custom_strategy,omitempty"`

	// TimeoutSec — таймаут обработчика по умолчанию.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}
