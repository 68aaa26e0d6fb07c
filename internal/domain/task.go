package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTaskID — строка не является ID задачи вида runId:nodeId:attempt.
var ErrInvalidTaskID = errors.New("invalid task id")

// ScheduledTask — задача, отправляемая исполнителю.
//
// В scheduler живёт одна запись на тройку (RunID, NodeID, Attempt).
// Терминальные записи удаляются после окна хранения.
type ScheduledTask struct {
	// ID — "runId:nodeId:attempt".
	ID string `json:"id"`

	RunID    uuid.UUID `json:"run_id"`
	TenantID string    `json:"tenant_id"`
	NodeID   string    `json:"node_id"`

	// NodeType — тип работы узла ("http", "delay", ...).
	NodeType string `json:"node_type"`

	ExecutorType      string            `json:"executor_type"`
	CommunicationType CommunicationType `json:"communication_type,omitempty"`

	// Attempt — номер попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Payload — отрендеренная конфигурация узла.
	Payload map[string]any `json:"payload,omitempty"`

	// RetryPolicy — действующая политика retry узла.
	RetryPolicy RetryPolicy `json:"retry_policy"`

	TimeoutSec int `json:"timeout_sec,omitempty"`

	Status     TaskStatus `json:"status"`
	ExecutorID string     `json:"executor_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`

	ScheduledAt time.Time `json:"scheduled_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskID формирует ID задачи.
func TaskID(runID uuid.UUID, nodeID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", runID, nodeID, attempt)
}

// ParseTaskID разбирает ID задачи на составные части.
func ParseTaskID(id string) (uuid.UUID, string, int, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return uuid.Nil, "", 0, fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	runID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", 0, fmt.Errorf("%w: %q: %v", ErrInvalidTaskID, id, err)
	}
	attempt, err := strconv.Atoi(parts[2])
	if err != nil || attempt < 1 || parts[1] == "" {
		return uuid.Nil, "", 0, fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return runID, parts[1], attempt, nil
}

// Timeout возвращает таймаут задачи как time.Duration.
func (t *ScheduledTask) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

// RetryEntry — отложенный повтор узла в очереди retry.
//
// В очереди одна запись на пару (RunID, NodeID); ключ — RetryKey.
type RetryEntry struct {
	RunID    uuid.UUID `json:"run_id"`
	TenantID string    `json:"tenant_id"`
	NodeID   string    `json:"node_id"`

	// Attempt — номер попытки, которую нужно запустить.
	Attempt int `json:"attempt"`

	ExecuteAt time.Time `json:"execute_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Key возвращает ключ записи "runId:nodeId".
func (e RetryEntry) Key() string {
	return RetryKey(e.RunID, e.NodeID)
}

// RetryKey формирует ключ записи очереди retry.
func RetryKey(runID uuid.UUID, nodeID string) string {
	return runID.String() + ":" + nodeID
}
