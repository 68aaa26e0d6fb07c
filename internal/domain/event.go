package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/xjson"
)

// EventType — тип события истории выполнения. Множество закрыто.
type EventType string

const (
	EventRunCreated   EventType = "RUN_CREATED"
	EventRunStarted   EventType = "RUN_STARTED"
	EventRunSuspended EventType = "RUN_SUSPENDED"
	EventRunResumed   EventType = "RUN_RESUMED"
	EventRunCompleted EventType = "RUN_COMPLETED"
	EventRunFailed    EventType = "RUN_FAILED"
	EventRunCancelled EventType = "RUN_CANCELLED"

	EventNodeScheduled      EventType = "NODE_SCHEDULED"
	EventNodeDispatched     EventType = "NODE_DISPATCHED"
	EventNodeCompleted      EventType = "NODE_COMPLETED"
	EventNodeFailed         EventType = "NODE_FAILED"
	EventNodeRetryScheduled EventType = "NODE_RETRY_SCHEDULED"
	EventNodeDeadLettered   EventType = "NODE_DEAD_LETTERED"

	EventCompensationStarted   EventType = "COMPENSATION_STARTED"
	EventNodeCompensated       EventType = "NODE_COMPENSATED"
	EventNodeCompensationFail  EventType = "NODE_COMPENSATION_FAILED"
	EventCompensationCompleted EventType = "COMPENSATION_COMPLETED"
	EventCompensationFailed    EventType = "COMPENSATION_FAILED"
)

// EventPayload — данные конкретного варианта события.
//
// Реализуется только типами этого пакета.
type EventPayload interface {
	EventType() EventType
	eventPayload()
}

// ExecutionEvent — неизменяемая запись истории выполнения.
//
// Полный порядок: OccurredAt, затем Sequence.
type ExecutionEvent struct {
	ID         uuid.UUID    `json:"id"`
	RunID      uuid.UUID    `json:"run_id"`
	TenantID   string       `json:"tenant_id"`
	Sequence   int64        `json:"sequence"`
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    EventPayload `json:"payload"`
}

// NewEvent оборачивает payload в конверт. Sequence проставляет orchestrator.
func NewEvent(runID uuid.UUID, tenantID string, at time.Time, payload EventPayload) ExecutionEvent {
	return ExecutionEvent{
		ID:         uuid.New(),
		RunID:      runID,
		TenantID:   tenantID,
		Type:       payload.EventType(),
		OccurredAt: at,
		Payload:    payload,
	}
}

// --- Run lifecycle ---

type RunCreated struct {
	DefinitionID      uuid.UUID      `json:"definition_id"`
	DefinitionVersion int            `json:"definition_version"`
	Inputs            map[string]any `json:"inputs,omitempty"`
}

type RunStarted struct{}

type RunSuspended struct {
	Reason string `json:"reason,omitempty"`
}

type RunResumed struct{}

type RunCompleted struct {
	DurationMs int64 `json:"duration_ms"`
}

type RunFailed struct {
	Reason      string `json:"reason"`
	Compensated bool   `json:"compensated,omitempty"`
}

type RunCancelled struct {
	Reason string `json:"reason,omitempty"`
}

// --- Node lifecycle ---

type NodeScheduled struct {
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
	TaskID  string `json:"task_id"`
}

type NodeDispatched struct {
	NodeID     string `json:"node_id"`
	Attempt    int    `json:"attempt"`
	TaskID     string `json:"task_id"`
	ExecutorID string `json:"executor_id"`
}

type NodeCompleted struct {
	NodeID     string         `json:"node_id"`
	Attempt    int            `json:"attempt"`
	ExecutorID string         `json:"executor_id,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Skipped    bool           `json:"skipped,omitempty"`
}

type NodeFailed struct {
	NodeID    string `json:"node_id"`
	Attempt   int    `json:"attempt"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// NodeRetryScheduled — отложенный повтор; Attempt — номер следующей попытки.
type NodeRetryScheduled struct {
	NodeID    string    `json:"node_id"`
	Attempt   int       `json:"attempt"`
	ExecuteAt time.Time `json:"execute_at"`
	Reason    string    `json:"reason"`
}

type NodeDeadLettered struct {
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
	TaskID  string `json:"task_id"`
	Reason  string `json:"reason"`
}

// --- Compensation ---

type CompensationStarted struct {
	Strategy CompensationStrategy `json:"strategy"`
	Nodes    []string             `json:"nodes"`
}

type NodeCompensated struct {
	NodeID string `json:"node_id"`
}

type NodeCompensationFailed struct {
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

type CompensationCompleted struct {
	CompensatedNodes []string `json:"compensated_nodes"`
}

type CompensationFailed struct {
	FailedNodes map[string]string `json:"failed_nodes"`
	Reason      string            `json:"reason"`
}

func (RunCreated) EventType() EventType             { return EventRunCreated }
func (RunStarted) EventType() EventType             { return EventRunStarted }
func (RunSuspended) EventType() EventType           { return EventRunSuspended }
func (RunResumed) EventType() EventType             { return EventRunResumed }
func (RunCompleted) EventType() EventType           { return EventRunCompleted }
func (RunFailed) EventType() EventType              { return EventRunFailed }
func (RunCancelled) EventType() EventType           { return EventRunCancelled }
func (NodeScheduled) EventType() EventType          { return EventNodeScheduled }
func (NodeDispatched) EventType() EventType         { return EventNodeDispatched }
func (NodeCompleted) EventType() EventType          { return EventNodeCompleted }
func (NodeFailed) EventType() EventType             { return EventNodeFailed }
func (NodeRetryScheduled) EventType() EventType     { return EventNodeRetryScheduled }
func (NodeDeadLettered) EventType() EventType       { return EventNodeDeadLettered }
func (CompensationStarted) EventType() EventType    { return EventCompensationStarted }
func (NodeCompensated) EventType() EventType        { return EventNodeCompensated }
func (NodeCompensationFailed) EventType() EventType { return EventNodeCompensationFail }
func (CompensationCompleted) EventType() EventType  { return EventCompensationCompleted }
func (CompensationFailed) EventType() EventType     { return EventCompensationFailed }

func (RunCreated) eventPayload()             {}
func (RunStarted) eventPayload()             {}
func (RunSuspended) eventPayload()           {}
func (RunResumed) eventPayload()             {}
func (RunCompleted) eventPayload()           {}
func (RunFailed) eventPayload()              {}
func (RunCancelled) eventPayload()           {}
func (NodeScheduled) eventPayload()          {}
func (NodeDispatched) eventPayload()         {}
func (NodeCompleted) eventPayload()          {}
func (NodeFailed) eventPayload()             {}
func (NodeRetryScheduled) eventPayload()     {}
func (NodeDeadLettered) eventPayload()       {}
func (CompensationStarted) eventPayload()    {}
func (NodeCompensated) eventPayload()        {}
func (NodeCompensationFailed) eventPayload() {}
func (CompensationCompleted) eventPayload()  {}
func (CompensationFailed) eventPayload()     {}

// decodePayload восстанавливает payload по типу события.
func decodePayload(t EventType, raw []byte) (EventPayload, error) {
	switch t {
	case EventRunCreated:
		return decodeAs[RunCreated](raw)
	case EventRunStarted:
		return decodeAs[RunStarted](raw)
	case EventRunSuspended:
		return decodeAs[RunSuspended](raw)
	case EventRunResumed:
		return decodeAs[RunResumed](raw)
	case EventRunCompleted:
		return decodeAs[RunCompleted](raw)
	case EventRunFailed:
		return decodeAs[RunFailed](raw)
	case EventRunCancelled:
		return decodeAs[RunCancelled](raw)
	case EventNodeScheduled:
		return decodeAs[NodeScheduled](raw)
	case EventNodeDispatched:
		return decodeAs[NodeDispatched](raw)
	case EventNodeCompleted:
		return decodeAs[NodeCompleted](raw)
	case EventNodeFailed:
		return decodeAs[NodeFailed](raw)
	case EventNodeRetryScheduled:
		return decodeAs[NodeRetryScheduled](raw)
	case EventNodeDeadLettered:
		return decodeAs[NodeDeadLettered](raw)
	case EventCompensationStarted:
		return decodeAs[CompensationStarted](raw)
	case EventNodeCompensated:
		return decodeAs[NodeCompensated](raw)
	case EventNodeCompensationFail:
		return decodeAs[NodeCompensationFailed](raw)
	case EventCompensationCompleted:
		return decodeAs[CompensationCompleted](raw)
	case EventCompensationFailed:
		return decodeAs[CompensationFailed](raw)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func decodeAs[T EventPayload](raw []byte) (EventPayload, error) {
	var p T
	if len(raw) > 0 && string(raw) != "null" {
		if err := xjson.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// eventWire — представление события в JSON.
type eventWire struct {
	ID         uuid.UUID        `json:"id"`
	RunID      uuid.UUID        `json:"run_id"`
	TenantID   string           `json:"tenant_id"`
	Sequence   int64            `json:"sequence"`
	Type       EventType        `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    xjson.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON кодирует событие вместе с payload.
func (e ExecutionEvent) MarshalJSON() ([]byte, error) {
	w := eventWire{
		ID:         e.ID,
		RunID:      e.RunID,
		TenantID:   e.TenantID,
		Sequence:   e.Sequence,
		Type:       e.Type,
		OccurredAt: e.OccurredAt,
	}
	if e.Payload != nil {
		if w.Type == "" {
			w.Type = e.Payload.EventType()
		}
		raw, err := xjson.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", w.Type, err)
		}
		w.Payload = raw
	}
	return xjson.Marshal(w)
}

// UnmarshalJSON декодирует событие, выбирая тип payload по полю type.
func (e *ExecutionEvent) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := xjson.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = ExecutionEvent{
		ID:         w.ID,
		RunID:      w.RunID,
		TenantID:   w.TenantID,
		Sequence:   w.Sequence,
		Type:       w.Type,
		OccurredAt: w.OccurredAt,
		Payload:    payload,
	}
	return nil
}
