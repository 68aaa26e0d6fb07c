package domain

import (
	"maps"
	"slices"
	"time"
)

// CompensationState — состояние saga-компенсации run.
//
// NodesToCompensate только уменьшается, CompensatedNodes только растёт.
// COMPLETED возможен лишь при пустом NodesToCompensate.
type CompensationState struct {
	Status   CompensationStatus   `json:"status"`
	Strategy CompensationStrategy `json:"strategy"`

	// NodesToCompensate — узлы, ожидающие отката, в порядке завершения.
	NodesToCompensate []string `json:"nodes_to_compensate"`

	// CompensatedNodes — успешно откаченные узлы в порядке отката.
	CompensatedNodes []string `json:"compensated_nodes"`

	// FailedNodes — ошибки обработчиков по ID узла.
	FailedNodes map[string]string `json:"failed_nodes,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewCompensationState создаёт состояние для списка узлов.
func NewCompensationState(strategy CompensationStrategy, nodes []string, now time.Time) *CompensationState {
	return &CompensationState{
		Status:            CompensationStatusPending,
		Strategy:          strategy,
		NodesToCompensate: slices.Clone(nodes),
		CompensatedNodes:  []string{},
		FailedNodes:       make(map[string]string),
		StartedAt:         now,
	}
}

// MarkCompensated переносит узел в CompensatedNodes.
func (s *CompensationState) MarkCompensated(nodeID string) {
	s.remove(nodeID)
	s.CompensatedNodes = append(s.CompensatedNodes, nodeID)
}

// MarkFailed записывает ошибку обработчика.
// При remove=true узел удаляется из ожидания (best-effort режим).
func (s *CompensationState) MarkFailed(nodeID, reason string, remove bool) {
	if s.FailedNodes == nil {
		s.FailedNodes = make(map[string]string)
	}
	s.FailedNodes[nodeID] = reason
	if remove {
		s.remove(nodeID)
	}
}

// Finish проставляет финальный статус.
func (s *CompensationState) Finish(now time.Time) {
	if len(s.NodesToCompensate) == 0 {
		s.Status = CompensationStatusCompleted
	} else {
		s.Status = CompensationStatusFailed
	}
	s.FinishedAt = &now
}

func (s *CompensationState) remove(nodeID string) {
	s.NodesToCompensate = slices.DeleteFunc(s.NodesToCompensate, func(id string) bool {
		return id == nodeID
	})
}

// Clone возвращает независимую копию.
func (s *CompensationState) Clone() *CompensationState {
	c := *s
	c.NodesToCompensate = slices.Clone(s.NodesToCompensate)
	c.CompensatedNodes = slices.Clone(s.CompensatedNodes)
	c.FailedNodes = maps.Clone(s.FailedNodes)
	return &c
}
