package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// WorkflowRun — экземпляр выполнения определения.
//
// Run владеет своими NodeExecution и CompensationState.
// Статус меняется только через таблицу переходов orchestrator.
type WorkflowRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// TenantID — владелец run.
	TenantID string `json:"tenant_id"`

	// DefinitionID — ссылка на выполняемое определение.
	DefinitionID uuid.UUID `json:"definition_id"`

	// DefinitionVersion — версия определения на момент создания.
	DefinitionVersion int `json:"definition_version"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// Variables — входные параметры и объединённые выходы узлов.
	Variables map[string]any `json:"variables,omitempty"`

	// NodeExecutions — состояние узлов по ID.
	NodeExecutions map[string]*NodeExecution `json:"node_executions,omitempty"`

	// ExecutionPath — ID узлов в порядке успешного завершения.
	ExecutionPath []string `json:"execution_path,omitempty"`

	// Compensation — состояние компенсации, если она запускалась.
	Compensation *CompensationState `json:"compensation,omitempty"`

	// Error — причина провала.
	Error string `json:"error,omitempty"`

	// LastEventSeq — номер последнего события в истории.
	LastEventSeq int64 `json:"last_event_seq"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewWorkflowRun создаёт run в статусе CREATED.
func NewWorkflowRun(def *WorkflowDefinition, inputs map[string]any, now time.Time) *WorkflowRun {
	vars := make(map[string]any, len(inputs))
	maps.Copy(vars, inputs)

	return &WorkflowRun{
		ID:                uuid.New(),
		TenantID:          def.TenantID,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            RunStatusCreated,
		Variables:         vars,
		NodeExecutions:    make(map[string]*NodeExecution),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Execution возвращает состояние узла или nil.
func (r *WorkflowRun) Execution(nodeID string) *NodeExecution {
	if r.NodeExecutions == nil {
		return nil
	}
	return r.NodeExecutions[nodeID]
}

// SetExecution сохраняет состояние узла.
func (r *WorkflowRun) SetExecution(exec *NodeExecution) {
	if r.NodeExecutions == nil {
		r.NodeExecutions = make(map[string]*NodeExecution)
	}
	r.NodeExecutions[exec.NodeID] = exec
}

// CompletedNodes возвращает выполненные (не пропущенные) узлы в порядке завершения.
func (r *WorkflowRun) CompletedNodes() []string {
	out := make([]string, 0, len(r.ExecutionPath))
	for _, id := range r.ExecutionPath {
		exec := r.Execution(id)
		if exec == nil || exec.Status != NodeStatusCompleted || exec.Skipped {
			continue
		}
		out = append(out, id)
	}
	return out
}

// HasCompletedNodes возвращает true, если хотя бы один узел реально выполнен.
func (r *WorkflowRun) HasCompletedNodes() bool {
	return len(r.CompletedNodes()) > 0
}

// InFlight возвращает количество узлов, ожидающих результата или retry.
func (r *WorkflowRun) InFlight() int {
	n := 0
	for _, exec := range r.NodeExecutions {
		if exec.Status == NodeStatusRunning || exec.Status == NodeStatusWaitingRetry {
			n++
		}
	}
	return n
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *WorkflowRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// Stats считает узлы по статусам.
func (r *WorkflowRun) Stats() RunStats {
	stats := RunStats{ByStatus: make(map[NodeStatus]int)}
	for _, exec := range r.NodeExecutions {
		stats.ByStatus[exec.Status]++
		stats.TotalAttempts += exec.Attempt
		if exec.Skipped {
			stats.Skipped++
		}
	}
	stats.Completed = len(r.CompletedNodes())
	stats.Duration = r.Duration()
	return stats
}

// Clone возвращает копию run, которую можно менять независимо.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Variables = maps.Clone(r.Variables)
	c.ExecutionPath = append([]string(nil), r.ExecutionPath...)

	if r.NodeExecutions != nil {
		c.NodeExecutions = make(map[string]*NodeExecution, len(r.NodeExecutions))
		for id, exec := range r.NodeExecutions {
			e := *exec
			e.Output = maps.Clone(exec.Output)
			c.NodeExecutions[id] = &e
		}
	}
	if r.Compensation != nil {
		c.Compensation = r.Compensation.Clone()
	}
	return &c
}

// RunStats — агрегированная статистика узлов run.
type RunStats struct {
	ByStatus      map[NodeStatus]int `json:"by_status"`
	Completed     int                `json:"completed"`
	Skipped       int                `json:"skipped"`
	TotalAttempts int                `json:"total_attempts"`
	Duration      time.Duration      `json:"duration_ns"`
}

// NodeExecution — состояние выполнения узла.
//
// Attempt монотонно растёт. COMPLETED и FAILED без Retryable финальны.
type NodeExecution struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`

	// Attempt — номер последней попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Output — результат узла.
	Output map[string]any `json:"output,omitempty"`

	// LastError — текст последней ошибки.
	LastError string `json:"last_error,omitempty"`

	// Retryable — узел провален, но готов к следующей попытке.
	Retryable bool `json:"retryable,omitempty"`

	// Skipped — узел пропущен по условию.
	Skipped bool `json:"skipped,omitempty"`

	ExecutorID string     `json:"executor_id,omitempty"`
	TaskID     string     `json:"task_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsReadyForRetry возвращает true, если узел провален с возможностью повтора.
func (e *NodeExecution) IsReadyForRetry() bool {
	return e.Status == NodeStatusFailed && e.Retryable
}
