package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/engine"
)

// Definition DTOs

// DefinitionResponse — ответ с определением.
type DefinitionResponse struct {
	*domain.WorkflowDefinition

	// Warnings — замечания анализа графа (висячие ссылки, циклы).
	Warnings []engine.Warning `json:"warnings,omitempty"`
}

// DefinitionSummary — элемент списка определений.
type DefinitionSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Nodes     int       `json:"nodes"`
	CreatedAt time.Time `json:"created_at"`
}

// DefinitionSummaryFromDomain конвертирует определение в DefinitionSummary.
func DefinitionSummaryFromDomain(d domain.WorkflowDefinition) DefinitionSummary {
	return DefinitionSummary{
		ID:        d.ID,
		Name:      d.Name,
		Version:   d.Version,
		Nodes:     len(d.Nodes),
		CreatedAt: d.CreatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`

	// Start — сразу запустить run после создания.
	Start bool `json:"start,omitempty"`
}

// ReasonRequest — тело cancel/suspend.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	*domain.WorkflowRun
	Stats domain.RunStats `json:"stats"`
}

// RunFromDomain конвертирует domain.WorkflowRun в RunResponse.
func RunFromDomain(run *domain.WorkflowRun) RunResponse {
	return RunResponse{WorkflowRun: run, Stats: run.Stats()}
}

// RunSummary — элемент списка runs.
type RunSummary struct {
	ID           uuid.UUID        `json:"id"`
	DefinitionID uuid.UUID        `json:"definition_id"`
	Version      int              `json:"definition_version"`
	Status       domain.RunStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// RunSummaryFromDomain конвертирует run в RunSummary.
func RunSummaryFromDomain(run domain.WorkflowRun) RunSummary {
	return RunSummary{
		ID:           run.ID,
		DefinitionID: run.DefinitionID,
		Version:      run.DefinitionVersion,
		Status:       run.Status,
		Error:        run.Error,
		CreatedAt:    run.CreatedAt,
		FinishedAt:   run.FinishedAt,
	}
}

// Executor DTOs

// RegisterExecutorRequest — запрос на регистрацию исполнителя.
type RegisterExecutorRequest struct {
	ID                 string                   `json:"id"`
	Type               string                   `json:"type"`
	CommunicationType  domain.CommunicationType `json:"communication_type"`
	Endpoint           string                   `json:"endpoint,omitempty"`
	HeartbeatTimeoutMs int64                    `json:"heartbeat_timeout_ms,omitempty"`
	MaxConcurrentTasks int                      `json:"max_concurrent_tasks,omitempty"`
	Metadata           map[string]string        `json:"metadata,omitempty"`
}

// ToDomain конвертирует запрос в domain.ExecutorInfo.
func (r RegisterExecutorRequest) ToDomain() domain.ExecutorInfo {
	return domain.ExecutorInfo{
		ID:                 r.ID,
		Type:               r.Type,
		CommunicationType:  r.CommunicationType,
		Endpoint:           r.Endpoint,
		HeartbeatTimeout:   time.Duration(r.HeartbeatTimeoutMs) * time.Millisecond,
		MaxConcurrentTasks: r.MaxConcurrentTasks,
		Metadata:           r.Metadata,
	}
}

// ExecutorResponse — ответ с исполнителем.
type ExecutorResponse struct {
	domain.ExecutorInfo
	Healthy bool `json:"healthy"`
}

// ExecutorFromDomain конвертирует исполнителя в ExecutorResponse.
func ExecutorFromDomain(e domain.ExecutorInfo, now time.Time) ExecutorResponse {
	return ExecutorResponse{ExecutorInfo: e, Healthy: e.IsHealthy(now)}
}
