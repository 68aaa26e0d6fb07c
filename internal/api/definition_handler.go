package api

import (
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/engine"
)

const maxDefinitionSize = 1 << 20

// PublishDefinition публикует новую версию определения.
// Тело — определение в JSON или YAML.
// POST /api/v1/definitions
func (h *Handler) PublishDefinition(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFrom(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionSize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	def, err := engine.ParseDefinition(body)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	def.ID = uuid.Nil
	def.TenantID = tenantID

	if err := h.definitions.Publish(r.Context(), def); HandleError(w, h.logger, err) {
		return
	}

	warnings := engine.AnalyzeDefinition(def)
	if len(warnings) > 0 {
		h.logger.Warn("definition published with warnings",
			"definition_id", def.ID,
			"tenant_id", tenantID,
			"warnings", len(warnings),
		)
	}

	Created(w, DefinitionResponse{WorkflowDefinition: def, Warnings: warnings})
}

// GetDefinition возвращает определение по ID.
// GET /api/v1/definitions/{id}
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	def, err := h.definitions.FindByID(r.Context(), id, TenantFrom(r.Context()))
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, DefinitionResponse{WorkflowDefinition: def, Warnings: engine.AnalyzeDefinition(def)})
}

// ListDefinitions возвращает определения tenant'а.
// GET /api/v1/definitions
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.definitions.ListDefinitions(r.Context(), TenantFrom(r.Context()))
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]DefinitionSummary, len(defs))
	for i, d := range defs {
		result[i] = DefinitionSummaryFromDomain(d)
	}

	List(w, result, len(result))
}
