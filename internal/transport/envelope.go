package transport

import (
	"fmt"

	"github.com/shaiso/dagflow/internal/domain"
)

// TaskEnvelope — задача на проводе (REST, gRPC).
type TaskEnvelope struct {
	Task *domain.ScheduledTask `json:"task"`

	// ExecutorID — исполнитель, которому адресована задача.
	ExecutorID string `json:"executor_id"`

	// CallbackURL — куда отправить ResultEnvelope (REST-исполнители).
	CallbackURL string `json:"callback_url,omitempty"`
}

// ResultEnvelope — результат исполнителя на проводе.
//
// RunID, NodeID и Attempt восстанавливаются из TaskID.
type ResultEnvelope struct {
	TaskID     string         `json:"task_id"`
	ExecutorID string         `json:"executor_id,omitempty"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Permanent  bool           `json:"permanent,omitempty"`
}

// DispatchAck — ответ исполнителя на gRPC Dispatch.
type DispatchAck struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// NewResultEnvelope создаёт конверт из результата.
func NewResultEnvelope(r domain.NodeResult) ResultEnvelope {
	return ResultEnvelope{
		TaskID:     r.TaskID,
		ExecutorID: r.ExecutorID,
		Success:    r.Success,
		Output:     r.Output,
		Error:      r.Error,
		Permanent:  r.Permanent,
	}
}

// ToResult восстанавливает domain.NodeResult.
func (e ResultEnvelope) ToResult() (domain.NodeResult, error) {
	runID, nodeID, attempt, err := domain.ParseTaskID(e.TaskID)
	if err != nil {
		return domain.NodeResult{}, fmt.Errorf("result envelope: %w", err)
	}
	return domain.NodeResult{
		RunID:      runID,
		NodeID:     nodeID,
		Attempt:    attempt,
		TaskID:     e.TaskID,
		ExecutorID: e.ExecutorID,
		Success:    e.Success,
		Output:     e.Output,
		Error:      e.Error,
		Permanent:  e.Permanent,
	}, nil
}
