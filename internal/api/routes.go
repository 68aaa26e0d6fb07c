package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		RequestID(h.logger),
		Logging(),
	)
	tenant := Chain(chain, Tenant())

	// Service
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Definitions
	mux.Handle("GET /api/v1/definitions", tenant(http.HandlerFunc(h.ListDefinitions)))
	mux.Handle("POST /api/v1/definitions", tenant(http.HandlerFunc(h.PublishDefinition)))
	mux.Handle("GET /api/v1/definitions/{id}", tenant(http.HandlerFunc(h.GetDefinition)))

	// Runs
	mux.Handle("GET /api/v1/runs", tenant(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/definitions/{id}/runs", tenant(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", tenant(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/history", tenant(http.HandlerFunc(h.GetHistory)))
	mux.Handle("POST /api/v1/runs/{id}/start", tenant(http.HandlerFunc(h.StartRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", tenant(http.HandlerFunc(h.CancelRun)))
	mux.Handle("POST /api/v1/runs/{id}/suspend", tenant(http.HandlerFunc(h.SuspendRun)))
	mux.Handle("POST /api/v1/runs/{id}/resume", tenant(http.HandlerFunc(h.ResumeRun)))
	mux.Handle("POST /api/v1/runs/{id}/results", tenant(http.HandlerFunc(h.SubmitResult)))

	// Executors
	mux.Handle("GET /api/v1/executors", chain(http.HandlerFunc(h.ListExecutors)))
	mux.Handle("POST /api/v1/executors", chain(http.HandlerFunc(h.RegisterExecutor)))
	mux.Handle("POST /api/v1/executors/{id}/heartbeat", chain(http.HandlerFunc(h.Heartbeat)))
	mux.Handle("DELETE /api/v1/executors/{id}", chain(http.HandlerFunc(h.UnregisterExecutor)))
}

// Health — проверка живости процесса.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	Success(w, map[string]string{"status": "ok"})
}
