package domain

import (
	"sort"

	"github.com/google/uuid"
)

// ExecutionHistory — журнал событий run. Только дописывается.
type ExecutionHistory struct {
	RunID  uuid.UUID        `json:"run_id"`
	Events []ExecutionEvent `json:"events"`
}

// Sort упорядочивает события по OccurredAt, затем по Sequence.
func (h *ExecutionHistory) Sort() {
	sort.SliceStable(h.Events, func(i, j int) bool {
		a, b := h.Events[i], h.Events[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.Sequence < b.Sequence
	})
}

// Count возвращает число событий заданного типа.
func (h *ExecutionHistory) Count(t EventType) int {
	n := 0
	for _, e := range h.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Last возвращает последнее событие или nil.
func (h *ExecutionHistory) Last() *ExecutionEvent {
	if len(h.Events) == 0 {
		return nil
	}
	return &h.Events[len(h.Events)-1]
}
