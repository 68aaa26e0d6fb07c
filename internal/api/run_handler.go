package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/transport"
	"github.com/shaiso/dagflow/internal/xjson"
)

// ListRuns возвращает список runs tenant'а с фильтрацией.
// GET /api/v1/runs?definition_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{TenantID: TenantFrom(r.Context())}

	if defIDStr := q.Get("definition_id"); defIDStr != "" {
		defID, err := uuid.Parse(defIDStr)
		if err != nil {
			BadRequest(w, "invalid definition_id")
			return
		}
		filter.DefinitionID = defID
	}

	if status := q.Get("status"); status != "" {
		parsed, ok := domain.ParseRunStatus(status)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = parsed
	}

	filter.Limit = parseInt(q.Get("limit"), 50)
	filter.Offset = parseInt(q.Get("offset"), 0)

	runs, err := h.runs.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]RunSummary, len(runs))
	for i, run := range runs {
		result[i] = RunSummaryFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт run по определению и при start=true запускает его.
// POST /api/v1/definitions/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	defID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	var req CreateRunRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	tenantID := TenantFrom(r.Context())
	run, err := h.orch.CreateRun(r.Context(), tenantID, defID, req.Inputs)
	if HandleError(w, h.logger, err) {
		return
	}

	if req.Start {
		run, err = h.orch.StartRun(r.Context(), tenantID, run.ID)
		if HandleError(w, h.logger, err) {
			return
		}
	}

	Created(w, RunFromDomain(run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.orch.GetRun(r.Context(), TenantFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// GetHistory возвращает историю run.
// GET /api/v1/runs/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	history, err := h.orch.GetHistory(r.Context(), TenantFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, history.Events, len(history.Events))
}

// StartRun запускает run.
// POST /api/v1/runs/{id}/start
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.orch.StartRun(r.Context(), TenantFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	var req ReasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	run, err := h.orch.CancelRun(r.Context(), TenantFrom(r.Context()), id, req.Reason)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// SuspendRun приостанавливает run.
// POST /api/v1/runs/{id}/suspend
func (h *Handler) SuspendRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	var req ReasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	run, err := h.orch.SuspendRun(r.Context(), TenantFrom(r.Context()), id, req.Reason)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// ResumeRun возобновляет run.
// POST /api/v1/runs/{id}/resume
func (h *Handler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.orch.ResumeRun(r.Context(), TenantFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// SubmitResult принимает результат узла от REST-исполнителя.
// POST /api/v1/runs/{id}/results
func (h *Handler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	var env transport.ResultEnvelope
	if err := xjson.NewDecoder(r.Body).Decode(&env); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	result, err := env.ToResult()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if result.RunID != id {
		BadRequest(w, "task does not belong to this run")
		return
	}

	tenantID := TenantFrom(r.Context())
	result.TenantID = tenantID
	if err := h.orch.HandleNodeResult(r.Context(), tenantID, result); HandleError(w, h.logger, err) {
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// --- Helpers ---

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptional декодирует JSON-тело, пустое тело допустимо.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := xjson.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
