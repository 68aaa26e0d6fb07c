package api

import (
	"net/http"
	"time"

	"github.com/shaiso/dagflow/internal/xjson"
)

// RegisterExecutor регистрирует исполнителя или обновляет регистрацию.
// POST /api/v1/executors
func (h *Handler) RegisterExecutor(w http.ResponseWriter, r *http.Request) {
	var req RegisterExecutorRequest
	if err := xjson.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	info, err := h.registry.Register(req.ToDomain())
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, ExecutorFromDomain(info, time.Now()))
}

// Heartbeat продлевает жизнь исполнителя.
// POST /api/v1/executors/{id}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Heartbeat(r.PathValue("id")); HandleError(w, h.logger, err) {
		return
	}
	NoContent(w)
}

// UnregisterExecutor удаляет исполнителя.
// DELETE /api/v1/executors/{id}
func (h *Handler) UnregisterExecutor(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Unregister(r.PathValue("id")); HandleError(w, h.logger, err) {
		return
	}
	NoContent(w)
}

// ListExecutors возвращает зарегистрированных исполнителей.
// GET /api/v1/executors
func (h *Handler) ListExecutors(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	executors := h.registry.List()

	result := make([]ExecutorResponse, len(executors))
	for i, e := range executors {
		result[i] = ExecutorFromDomain(e, now)
	}

	List(w, result, len(result))
}
