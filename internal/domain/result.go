package domain

import "github.com/google/uuid"

// NodeResult — результат выполнения узла, присланный исполнителем.
type NodeResult struct {
	RunID      uuid.UUID `json:"run_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	NodeID     string    `json:"node_id"`
	Attempt    int       `json:"attempt"`
	TaskID     string    `json:"task_id,omitempty"`
	ExecutorID string    `json:"executor_id,omitempty"`

	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`

	// Permanent — ошибку нет смысла повторять (например, невалидная конфигурация).
	Permanent bool `json:"permanent,omitempty"`
}

// NewSuccessResult создаёт успешный результат по задаче.
func NewSuccessResult(task *ScheduledTask, executorID string, output map[string]any) NodeResult {
	return NodeResult{
		RunID:      task.RunID,
		TenantID:   task.TenantID,
		NodeID:     task.NodeID,
		Attempt:    task.Attempt,
		TaskID:     task.ID,
		ExecutorID: executorID,
		Success:    true,
		Output:     output,
	}
}

// NewFailureResult создаёт неуспешный результат по задаче.
func NewFailureResult(task *ScheduledTask, executorID string, err error, permanent bool) NodeResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return NodeResult{
		RunID:      task.RunID,
		TenantID:   task.TenantID,
		NodeID:     task.NodeID,
		Attempt:    task.Attempt,
		TaskID:     task.ID,
		ExecutorID: executorID,
		Error:      msg,
		Permanent:  permanent,
	}
}
